package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

func newPagedEngine(t *testing.T) *PagedEngine {
	t.Helper()

	fm, err := storage.NewManager(t.TempDir(), 512)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fm.Close() })

	return NewPagedEngine(fm, 4)
}

func TestPagedEngineCommitPersistsAcrossStatements(t *testing.T) {
	e := newPagedEngine(t)

	tx, err := e.Begin()
	require.NoError(t, err)

	_, err = e.BeginStatement(tx)
	require.NoError(t, err)
	_, err = e.Apply(tx, "widgets", record.OpInsert, []byte("a"), nil, []byte("1"))
	require.NoError(t, err)

	require.NoError(t, e.Prepare(tx))
	require.NoError(t, e.Commit(tx, 1))

	tuple, ok := e.Get("widgets", "a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), tuple)
}

func TestPagedEngineRollbackStatementDiscardsPending(t *testing.T) {
	e := newPagedEngine(t)

	tx, err := e.Begin()
	require.NoError(t, err)

	sp, err := e.BeginStatement(tx)
	require.NoError(t, err)
	_, err = e.Apply(tx, "widgets", record.OpInsert, []byte("a"), nil, []byte("1"))
	require.NoError(t, err)

	require.NoError(t, e.RollbackStatement(tx, sp))
	require.NoError(t, e.Commit(tx, 1))

	_, ok := e.Get("widgets", "a")
	require.False(t, ok)
}

func TestPagedEngineDeleteRemovesKey(t *testing.T) {
	e := newPagedEngine(t)

	tx, err := e.Begin()
	require.NoError(t, err)
	_, err = e.BeginStatement(tx)
	require.NoError(t, err)
	_, err = e.Apply(tx, "widgets", record.OpInsert, []byte("a"), nil, []byte("1"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx, 1))

	tx2, err := e.Begin()
	require.NoError(t, err)
	_, err = e.BeginStatement(tx2)
	require.NoError(t, err)
	_, err = e.Apply(tx2, "widgets", record.OpDelete, []byte("a"), []byte("1"), nil)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2, 2))

	_, ok := e.Get("widgets", "a")
	require.False(t, ok)
}

func TestPagedEngineRejectsOversizedSpace(t *testing.T) {
	e := newPagedEngine(t)

	tx, err := e.Begin()
	require.NoError(t, err)
	_, err = e.BeginStatement(tx)
	require.NoError(t, err)

	huge := make([]byte, 1024)
	_, err = e.Apply(tx, "widgets", record.OpInsert, []byte("a"), nil, huge)
	require.NoError(t, err)

	require.ErrorIs(t, e.Commit(tx, 1), ErrSpaceFull)
}
