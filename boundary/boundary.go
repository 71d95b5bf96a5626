// Package boundary exposes the operations request handlers call:
// begin/commit/rollback (one-phase and two-phase),
// begin-statement/commit-statement/rollback-statement, checkpoint, and
// watcher attach/detach. Every function returns an error instead of
// propagating a panic or out-of-band failure across the boundary.
//
// It is the top-level type request handlers call into, generalized from a
// SQL-statement-execution facade owning file/log/buffer managers directly
// to a transaction-lifecycle facade over an already-running txn.Manager.
package boundary

import (
	"github.com/pkg/errors"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
	"github.com/nullvane/waltx/txn"
	"github.com/nullvane/waltx/wal"
)

// Sentinel errors surfaced across the boundary. Every internal error is
// wrapped with one of these so callers can branch on a stable, small set
// of cases regardless of which layer produced the underlying failure.
var (
	ErrActiveTransaction      = txn.ErrActiveTransaction
	ErrNoActiveTransaction    = txn.ErrNoActiveTransaction
	ErrSubStmtMax             = txn.ErrSubStmtMax
	ErrCrossEngineTransaction = engine.ErrCrossEngineTransaction
	ErrAlreadyPrepared        = txn.ErrAlreadyPrepared
	ErrCommitInSubStmt        = txn.ErrCommitInSubStmt
	ErrRollbackInSubStmt      = txn.ErrRollbackInSubStmt
	ErrCommitBeforePrepare    = txn.ErrCommitBeforePrepare

	// ErrWALIO wraps any failure originating from the log file or writer
	// layers (I/O errors, corrupt frames, rotation failures), and also
	// every other internal error that matches none of the sentinels above
	// (engine failures included).
	ErrWALIO = errors.New("boundary: wal io error")

	// ErrUnsupported is returned for an operation this build of the
	// engine does not implement.
	ErrUnsupported = errors.New("boundary: unsupported operation")
)

// TaskID identifies the caller, as txn.TaskID.
type TaskID = txn.TaskID

// DB is the boundary façade bound to one transaction manager, one writer,
// and one default engine.
type DB struct {
	mgr    *txn.Manager
	writer *wal.Writer
	engine engine.Engine
}

// Open wires a façade over an already-constructed transaction manager and
// writer, with eng as the default engine BeginStatement binds against.
func Open(mgr *txn.Manager, writer *wal.Writer, eng engine.Engine) *DB {
	return &DB{mgr: mgr, writer: writer, engine: eng}
}

// InTransaction reports whether task currently has an open transaction.
func (db *DB) InTransaction(task TaskID) bool {
	return db.mgr.InTransaction(task)
}

// Begin starts a one-phase transaction for task.
func (db *DB) Begin(task TaskID, autoCommit bool) error {
	_, err := db.mgr.Begin(task, autoCommit)
	return classify(err)
}

// BeginTwoPhase starts a two-phase transaction for task.
func (db *DB) BeginTwoPhase(task TaskID, txID int64, coordID uint32) error {
	_, err := db.mgr.BeginTwoPhase(task, storage.TxID(txID), storage.CoordinatorID(coordID))
	return classify(err)
}

// BeginStatement opens a new statement against space for task.
func (db *DB) BeginStatement(task TaskID, space string) error {
	_, err := db.mgr.BeginStatement(task, db.engine, space)
	return classify(err)
}

// Mutation carries one statement's operation and tuple data across the
// boundary.
type Mutation struct {
	Op  record.Op
	Key []byte
	Old []byte
	New []byte
}

// CommitStatement closes the task's last-opened statement with m.
func (db *DB) CommitStatement(task TaskID, m Mutation) error {
	return classify(db.mgr.CommitStatement(txn.CommitRequest{
		Task: task,
		Op:   m.Op,
		Key:  m.Key,
		Old:  m.Old,
		New:  m.New,
	}))
}

// RollbackStatement undoes the task's last-opened statement.
func (db *DB) RollbackStatement(task TaskID) error {
	return classify(db.mgr.RollbackStatement(task))
}

// PrepareTwoPhase prepares task's two-phase transaction.
func (db *DB) PrepareTwoPhase(task TaskID) error {
	return classify(db.mgr.PrepareTwoPhase(task))
}

// Commit commits task's transaction (one-phase or already-prepared
// two-phase).
func (db *DB) Commit(task TaskID) error {
	return classify(db.mgr.Commit(task))
}

// Rollback rolls back task's transaction.
func (db *DB) Rollback(task TaskID) error {
	return classify(db.mgr.Rollback(task))
}

// Checkpoint requests a checkpoint, optionally rotating the active log
// file, and returns the writer's vclock signature sum.
func (db *DB) Checkpoint(rotate bool) (int64, error) {
	vclock, err := db.writer.Checkpoint(rotate)
	if err != nil {
		return 0, errors.Wrap(ErrWALIO, err.Error())
	}
	return vclock.Signature(), nil
}

// AttachWatcher registers a watcher that fires after every durable write,
// returning a handle for DetachWatcher.
func (db *DB) AttachWatcher(w wal.Watcher) int {
	return db.writer.Attach(w)
}

// DetachWatcher removes a previously attached watcher.
func (db *DB) DetachWatcher(id int) {
	db.writer.Detach(id)
}

// classify maps an internal error onto one of the boundary's sentinel
// errors it isn't already, so callers never need to know whether a failure
// originated in txn, engine, logfile, or wal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, txn.ErrActiveTransaction),
		errors.Is(err, txn.ErrNoActiveTransaction),
		errors.Is(err, txn.ErrSubStmtMax),
		errors.Is(err, engine.ErrCrossEngineTransaction),
		errors.Is(err, txn.ErrAlreadyPrepared),
		errors.Is(err, txn.ErrCommitInSubStmt),
		errors.Is(err, txn.ErrRollbackInSubStmt),
		errors.Is(err, txn.ErrCommitBeforePrepare):
		return err
	default:
		return errors.Wrap(ErrWALIO, err.Error())
	}
}
