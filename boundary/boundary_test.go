package boundary_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/boundary"
	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/txn"
	"github.com/nullvane/waltx/wal"
)

func newDB(t *testing.T) *boundary.DB {
	t.Helper()
	dir, err := logdir.Open(logdir.Options{Path: t.TempDir()})
	require.NoError(t, err)

	writer := wal.New(wal.Options{Dir: dir, RowsPerFile: 1000, OwnReplicaID: 1, ServerUUID: uuid.New()})
	mgr := txn.NewManager(wal.DirectSubmitter{Writer: writer}, nil, nil)
	return boundary.Open(mgr, writer, engine.NewMemory())
}

func TestSingleStatementAutoCommit(t *testing.T) {
	db := newDB(t)

	require.NoError(t, db.BeginStatement(1, "widgets"))
	require.NoError(t, db.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("k1"), New: []byte("v1")}))

	require.False(t, db.InTransaction(1))
}

func TestExplicitTransactionMultipleStatements(t *testing.T) {
	db := newDB(t)

	require.NoError(t, db.Begin(1, false))
	require.NoError(t, db.BeginStatement(1, "widgets"))
	require.NoError(t, db.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("k1"), New: []byte("v1")}))
	require.NoError(t, db.BeginStatement(1, "widgets"))
	require.NoError(t, db.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("k2"), New: []byte("v2")}))

	require.True(t, db.InTransaction(1))
	require.NoError(t, db.Commit(1))
	require.False(t, db.InTransaction(1))
}

func TestTwoPhaseHappyPath(t *testing.T) {
	db := newDB(t)

	require.NoError(t, db.BeginTwoPhase(1, 55, 2))
	require.NoError(t, db.BeginStatement(1, "widgets"))
	require.NoError(t, db.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("k"), New: []byte("v")}))
	require.NoError(t, db.PrepareTwoPhase(1))
	require.NoError(t, db.Commit(1))
}

func TestCommitBeforePrepareIsRejected(t *testing.T) {
	db := newDB(t)

	require.NoError(t, db.BeginTwoPhase(1, 1, 1))
	err := db.Commit(1)
	require.ErrorIs(t, err, boundary.ErrCommitBeforePrepare)
}

func TestCheckpointReturnsSignature(t *testing.T) {
	db := newDB(t)

	require.NoError(t, db.BeginStatement(1, "widgets"))
	require.NoError(t, db.CommitStatement(1, boundary.Mutation{Op: record.OpInsert, Key: []byte("k"), New: []byte("v")}))

	sig, err := db.Checkpoint(true)
	require.NoError(t, err)
	require.NotZero(t, sig)
}
