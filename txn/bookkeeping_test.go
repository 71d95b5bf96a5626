package txn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
	"github.com/nullvane/waltx/txn"
)

func TestBookkeepingRecordsPrepareCommitAndClear(t *testing.T) {
	sub := &fakeSubmitter{}
	mgr := txn.NewManager(sub, nil, nil)
	eng := engine.NewMemory()

	bk := txn.NewBookkeeping(mgr, eng, 1)

	require.NoError(t, bk.RecordPrepared(storage.TxID(55), storage.CoordinatorID(3)))
	require.NoError(t, bk.MarkCommitted(storage.TxID(55)))
	require.NoError(t, bk.Clear(storage.TxID(55)))

	require.Len(t, sub.calls, 3)
	require.Equal(t, record.OpInsert, sub.calls[0][0].Op)
	require.Equal(t, record.OpUpdate, sub.calls[1][0].Op)
	require.Equal(t, []byte("commit"), sub.calls[1][0].Body[1])
	require.Equal(t, record.OpDelete, sub.calls[2][0].Op)

	// bookkeeping runs under a reserved task, never task 1 itself.
	require.False(t, mgr.InTransaction(1))
}

func TestBookkeepingMarkRolledBack(t *testing.T) {
	sub := &fakeSubmitter{}
	mgr := txn.NewManager(sub, nil, nil)
	eng := engine.NewMemory()

	bk := txn.NewBookkeeping(mgr, eng, 7)
	require.NoError(t, bk.RecordPrepared(storage.TxID(1), storage.CoordinatorID(2)))
	require.NoError(t, bk.MarkRolledBack(storage.TxID(1)))

	require.Len(t, sub.calls, 2)
	require.Equal(t, []byte("rollback"), sub.calls[1][0].Body[1])
}
