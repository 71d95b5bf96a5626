package txn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/txn"
)

type fakeSubmitter struct {
	calls [][]record.Row
	next  int64
	err   error
}

func (f *fakeSubmitter) Submit(rows []record.Row) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, rows)
	f.next++
	return f.next, nil
}

func TestAutoCommitStatementCommitsOnZeroDepth(t *testing.T) {
	sub := &fakeSubmitter{}
	mgr := txn.NewManager(sub, nil, nil)
	eng := engine.NewMemory()

	_, err := mgr.BeginStatement(1, eng, "widgets")
	require.NoError(t, err)

	err = mgr.CommitStatement(txn.CommitRequest{Task: 1, Op: record.OpInsert, Key: []byte("k1"), New: []byte("v1")})
	require.NoError(t, err)

	require.False(t, mgr.InTransaction(1))
	require.Len(t, sub.calls, 1)

	tuple, ok := eng.Get("widgets", "k1")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), tuple)
}

func TestExplicitBeginRejectsSecondBegin(t *testing.T) {
	mgr := txn.NewManager(&fakeSubmitter{}, nil, nil)

	_, err := mgr.Begin(1, false)
	require.NoError(t, err)

	_, err = mgr.Begin(1, false)
	require.ErrorIs(t, err, txn.ErrActiveTransaction)
}

func TestCrossEngineTransactionRejected(t *testing.T) {
	mgr := txn.NewManager(&fakeSubmitter{}, nil, nil)
	a, b := engine.NewMemory(), engine.NewMemory()

	_, err := mgr.Begin(1, false)
	require.NoError(t, err)

	_, err = mgr.BeginStatement(1, a, "s1")
	require.NoError(t, err)
	err = mgr.CommitStatement(txn.CommitRequest{Task: 1, Op: record.OpInsert, Key: []byte("k"), New: []byte("v")})
	require.NoError(t, err)

	_, err = mgr.BeginStatement(1, b, "s2")
	require.ErrorIs(t, err, engine.ErrCrossEngineTransaction)

	require.NoError(t, mgr.Rollback(1))
}

func TestRollbackStatementKeepsEarlierStatementRow(t *testing.T) {
	mgr := txn.NewManager(&fakeSubmitter{}, nil, nil)
	eng := engine.NewMemory()

	_, err := mgr.Begin(1, false)
	require.NoError(t, err)

	_, err = mgr.BeginStatement(1, eng, "widgets")
	require.NoError(t, err)
	require.NoError(t, mgr.CommitStatement(txn.CommitRequest{Task: 1, Op: record.OpInsert, Key: []byte("k1"), New: []byte("v1")}))

	_, err = mgr.BeginStatement(1, eng, "widgets")
	require.NoError(t, err)
	require.NoError(t, mgr.RollbackStatement(1))

	require.NoError(t, mgr.Commit(1))
	_, ok := eng.Get("widgets", "k1")
	require.True(t, ok)
}

func TestTwoPhaseRollbackAfterPrepareWritesMarker(t *testing.T) {
	sub := &fakeSubmitter{}
	mgr := txn.NewManager(sub, nil, nil)
	eng := engine.NewMemory()

	_, err := mgr.BeginTwoPhase(1, 99, 7)
	require.NoError(t, err)

	_, err = mgr.BeginStatement(1, eng, "widgets")
	require.NoError(t, err)
	require.NoError(t, mgr.CommitStatement(txn.CommitRequest{Task: 1, Op: record.OpInsert, Key: []byte("k"), New: []byte("v")}))

	require.NoError(t, mgr.PrepareTwoPhase(1))
	require.NoError(t, mgr.Rollback(1))

	// prepare frame, bookkeeping insert, rollback marker, bookkeeping
	// update-to-rollback, bookkeeping delete.
	require.Len(t, sub.calls, 5)
	require.Equal(t, record.OpPrepare, sub.calls[0][0].Op)
	require.Equal(t, record.OpInsert, sub.calls[1][0].Op)
	require.Equal(t, record.OpRollback, sub.calls[2][0].Op)
	require.Equal(t, record.OpUpdate, sub.calls[3][0].Op)
	require.Equal(t, []byte("rollback"), sub.calls[3][0].Body[1])
	require.Equal(t, record.OpDelete, sub.calls[4][0].Op)
}

func TestCommitBeforePrepareRejected(t *testing.T) {
	mgr := txn.NewManager(&fakeSubmitter{}, nil, nil)

	_, err := mgr.BeginTwoPhase(1, 1, 1)
	require.NoError(t, err)

	err = mgr.Commit(1)
	require.ErrorIs(t, err, txn.ErrCommitBeforePrepare)
}
