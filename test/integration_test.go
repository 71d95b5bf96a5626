package test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/boundary"
	"github.com/nullvane/waltx/record"
)

// bookkeepingSpace mirrors the unexported system space name txn.Bookkeeping
// mutates, so these tests can confirm a prepared transaction's row actually
// lands in the log and is cleared again once the transaction resolves.
const bookkeepingSpace = "_txn_bookkeeping"

func txIDKey(txID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, txID)
	return b
}

func TestSingleRowInsert(t *testing.T) {
	h := NewHarness(t, DefaultConfig())

	require.NoError(t, h.DB.BeginStatement(1, "widgets"))
	require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("a"), New: []byte("1")}))

	tuple, ok := h.Engine.Get("widgets", "a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), tuple)
}

func TestTransactionalMultiStatementCommit(t *testing.T) {
	h := NewHarness(t, DefaultConfig())

	require.NoError(t, h.DB.Begin(1, false))
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		require.NoError(t, h.DB.BeginStatement(1, "widgets"))
		require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{
			Op: record.OpInsert, Key: []byte(kv[0]), New: []byte(kv[1]),
		}))
	}
	require.NoError(t, h.DB.Commit(1))

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		tuple, ok := h.Engine.Get("widgets", kv[0])
		require.True(t, ok)
		require.Equal(t, []byte(kv[1]), tuple)
	}
}

func TestRotationAcrossManyRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RowsPerFile = 5
	h := NewHarness(t, cfg)

	for i := 0; i < 23; i++ {
		require.NoError(t, h.DB.BeginStatement(1, "widgets"))
		require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{
			Op: record.OpInsert, Key: []byte{byte(i)}, New: []byte{byte(i)},
		}))
	}

	require.NoError(t, h.Writer.Close())
	require.NoError(t, h.Dir.Scan())
	require.Greater(t, len(h.Dir.Signatures()), 1)
}

func TestTwoPhaseCommitHappyPath(t *testing.T) {
	h := NewHarness(t, DefaultConfig())

	require.NoError(t, h.DB.BeginTwoPhase(1, 42, 9))
	require.NoError(t, h.DB.BeginStatement(1, "widgets"))
	require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("a"), New: []byte("1")}))
	require.NoError(t, h.DB.PrepareTwoPhase(1))

	_, prepared := h.Engine.Get(bookkeepingSpace, string(txIDKey(42)))
	require.True(t, prepared, "bookkeeping row must exist once prepared")

	require.NoError(t, h.DB.Commit(1))

	tuple, ok := h.Engine.Get("widgets", "a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), tuple)

	_, stillThere := h.Engine.Get(bookkeepingSpace, string(txIDKey(42)))
	require.False(t, stillThere, "bookkeeping row must be cleared after commit")
}

func TestTwoPhaseRollbackAfterPrepare(t *testing.T) {
	h := NewHarness(t, DefaultConfig())

	require.NoError(t, h.DB.BeginTwoPhase(1, 43, 9))
	require.NoError(t, h.DB.BeginStatement(1, "widgets"))
	require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("a"), New: []byte("1")}))
	require.NoError(t, h.DB.PrepareTwoPhase(1))
	require.NoError(t, h.DB.Rollback(1))

	require.False(t, h.DB.InTransaction(1))

	_, stillThere := h.Engine.Get(bookkeepingSpace, string(txIDKey(43)))
	require.False(t, stillThere, "bookkeeping row must be cleared after rollback")
}

func TestPagedEngineTransactionalCommit(t *testing.T) {
	h := NewPagedHarness(t, DefaultConfig())

	require.NoError(t, h.DB.Begin(1, false))
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		require.NoError(t, h.DB.BeginStatement(1, "widgets"))
		require.NoError(t, h.DB.CommitStatement(1, boundary.Mutation{
			Op: record.OpInsert, Key: []byte(kv[0]), New: []byte(kv[1]),
		}))
	}
	require.NoError(t, h.DB.Commit(1))

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		tuple, ok := h.Engine.Get("widgets", kv[0])
		require.True(t, ok)
		require.Equal(t, []byte(kv[1]), tuple)
	}
}

func TestCascadingRollbackOnOversizedRow(t *testing.T) {
	h := NewHarness(t, DefaultConfig())

	huge := make([]byte, 64<<20)
	require.NoError(t, h.DB.BeginStatement(1, "widgets"))
	err := h.DB.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("a"), New: huge})
	require.Error(t, err)
}
