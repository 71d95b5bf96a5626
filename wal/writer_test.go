package wal_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/bus"
	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
	"github.com/nullvane/waltx/wal"
)

func newWriter(t *testing.T) *wal.Writer {
	t.Helper()
	dir, err := logdir.Open(logdir.Options{Path: t.TempDir()})
	require.NoError(t, err)

	return wal.New(wal.Options{
		Dir:          dir,
		RowsPerFile:  1000,
		OwnReplicaID: 1,
		ServerUUID:   uuid.New(),
	})
}

func TestWriteBatchAssignsIncreasingResults(t *testing.T) {
	w := newWriter(t)
	defer w.Close()

	batch := bus.NewBatch()
	r1 := &bus.Request{Rows: []record.Row{{Op: record.OpInsert, TxID: 1, Body: [][]byte{[]byte("a")}}}}
	r2 := &bus.Request{Rows: []record.Row{{Op: record.OpInsert, TxID: 2, Body: [][]byte{[]byte("b")}}}}
	batch.Append(r1)
	batch.Append(r2)
	batch.Close()

	w.WriteBatch(batch)

	require.NoError(t, r1.Err)
	require.NoError(t, r2.Err)
	require.Greater(t, r1.Result, int64(0))
	require.Greater(t, r2.Result, r1.Result)
}

func TestWriteBatchAssignsDistinctLSNPerRowSameReplica(t *testing.T) {
	w := newWriter(t)
	defer w.Close()

	batch := bus.NewBatch()
	req := &bus.Request{Rows: []record.Row{
		{Op: record.OpUpdate, TxID: 1, ReplicaID: 1, Body: [][]byte{[]byte("a")}},
		{Op: record.OpUpdate, TxID: 1, ReplicaID: 1, Body: [][]byte{[]byte("b")}},
	}}
	batch.Append(req)
	batch.Close()

	w.WriteBatch(batch)

	require.NoError(t, req.Err)
	require.Equal(t, storage.LSN(1), req.Rows[0].LSN)
	require.Equal(t, storage.LSN(2), req.Rows[1].LSN)
	require.EqualValues(t, 2, req.Result)
}

func TestWriteBatchRejectsOversizedRow(t *testing.T) {
	w := newWriter(t)
	defer w.Close()

	huge := make([]byte, 64<<20)
	batch := bus.NewBatch()
	bad := &bus.Request{Rows: []record.Row{{Op: record.OpInsert, TxID: 1, Body: [][]byte{huge}}}}
	batch.Append(bad)
	batch.Close()

	w.WriteBatch(batch)

	require.Equal(t, bus.ErrResult, bad.Result)
	require.Error(t, bad.Err)
}

func TestCheckpointRotatesOnRequest(t *testing.T) {
	w := newWriter(t)
	defer w.Close()

	batch := bus.NewBatch()
	req := &bus.Request{Rows: []record.Row{{Op: record.OpInsert, TxID: 1, Body: [][]byte{[]byte("a")}}}}
	batch.Append(req)
	batch.Close()
	w.WriteBatch(batch)

	vclock, err := w.Checkpoint(true)
	require.NoError(t, err)
	require.NotEmpty(t, vclock)
}

func TestWatcherNotifiedAfterWrite(t *testing.T) {
	w := newWriter(t)
	defer w.Close()

	notified := make(chan struct{}, 1)
	w.Attach(wal.WatcherFunc(func(_ storage.Vclock) {
		select {
		case notified <- struct{}{}:
		default:
		}
	}))

	batch := bus.NewBatch()
	req := &bus.Request{Rows: []record.Row{{Op: record.OpInsert, TxID: 1, Body: [][]byte{[]byte("a")}}}}
	batch.Append(req)
	batch.Close()

	w.WriteBatch(batch)

	select {
	case <-notified:
	default:
		t.Fatal("watcher was not notified")
	}
}
