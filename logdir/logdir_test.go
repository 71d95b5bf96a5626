package logdir_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/logfile"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

func TestCreateXlogThenScanFindsIt(t *testing.T) {
	dir := t.TempDir()
	server := uuid.New()

	d, err := logdir.Open(logdir.Options{Path: dir, ServerUUID: server})
	require.NoError(t, err)

	vclock := storage.Vclock{1: 5}
	sig, _, err := d.CreateXlog(vclock)
	require.NoError(t, err)

	lf, err := logfile.Create(logfile.Options{Dir: dir}, sig, server, vclock)
	require.NoError(t, err)
	require.NoError(t, lf.Close(true)) // no rows written, file dropped

	lf, err = logfile.Create(logfile.Options{Dir: dir}, sig+1, server, vclock)
	require.NoError(t, err)
	lf.BeginTx()
	lf.WriteRow(record.Row{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{[]byte("a")}})
	_, err = lf.CommitTx()
	require.NoError(t, err)
	require.NoError(t, lf.Close(false))
	d.Record(sig + 1)

	require.NoError(t, d.Scan())
	name, ok := d.Lookup(sig + 1)
	require.True(t, ok)
	require.Equal(t, logfile.Filename(sig+1), name)

	_, ok = d.Lookup(sig)
	require.False(t, ok)
}

func TestLookupServesFromCacheAfterRecord(t *testing.T) {
	dir := t.TempDir()
	d, err := logdir.Open(logdir.Options{Path: dir})
	require.NoError(t, err)

	d.Record(100)
	name, ok := d.Lookup(100)
	require.True(t, ok)
	require.Equal(t, logfile.Filename(100), name)
}
