package logfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/logfile"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

func TestCreateWriteCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	server := uuid.New()
	vclock := storage.Vclock{1: 10}

	lf, err := logfile.Create(logfile.Options{Dir: dir, Mode: logfile.ModeWrite}, 10, server, vclock)
	require.NoError(t, err)

	lf.BeginTx()
	n := lf.WriteRow(record.Row{Op: record.OpInsert, ReplicaID: 1, LSN: 11, TxID: 1, Body: [][]byte{[]byte("a")}})
	require.Greater(t, n, 0)
	_, err = lf.CommitTx()
	require.NoError(t, err)

	require.NoError(t, lf.Close(false))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, logfile.Filename(10), entries[0].Name())

	gotServer, gotVclock, err := logfile.Inspect(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, server, gotServer)
	require.Equal(t, storage.LSN(10), gotVclock[1])
}

func TestCloseDropsEmptyInProgressFile(t *testing.T) {
	dir := t.TempDir()
	lf, err := logfile.Create(logfile.Options{Dir: dir}, 1, uuid.New(), storage.Vclock{})
	require.NoError(t, err)

	require.NoError(t, lf.Close(false))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}

func TestRollbackTxDiscardsRows(t *testing.T) {
	dir := t.TempDir()
	lf, err := logfile.Create(logfile.Options{Dir: dir}, 2, uuid.New(), storage.Vclock{})
	require.NoError(t, err)

	lf.BeginTx()
	lf.WriteRow(record.Row{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{[]byte("a")}})
	lf.RollbackTx()

	n, err := lf.CommitTx()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, int64(0), lf.RowCount())

	require.NoError(t, lf.Close(true))
}
