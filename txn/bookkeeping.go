package txn

import (
	"encoding/binary"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// bookkeepingSpace is the system space two-phase prepare state is recorded
// into — an ordinary space, mutated through the same begin_statement/
// commit_statement path every user mutation takes.
const bookkeepingSpace = "_txn_bookkeeping"

var (
	outcomeCommitted  = []byte("commit")
	outcomeRolledBack = []byte("rollback")
)

// Bookkeeping issues INSERT/UPDATE/DELETE statements against the
// bookkeeping space through the normal commit_statement path, so that
// prepared-but-not-yet-committed two-phase transactions are tracked by the
// same mechanism as any other mutation rather than a bespoke side channel.
//
// Its statements run under a task distinct from the two-phase transaction
// being tracked: by the time a bookkeeping row needs writing (at prepare,
// and again at commit/rollback), the tracked transaction is itself
// prepared, and begin_statement refuses any further statement against a
// prepared transaction. A bookkeeping write is therefore its own
// independent, auto-commit, one-phase transaction that happens to log a
// mutation describing another transaction's state.
type Bookkeeping struct {
	mgr  *Manager
	eng  engine.Engine
	task TaskID
}

// NewBookkeeping returns a helper that logs bookkeeping rows through mgr
// for the two-phase transaction owned by task, using eng as the engine
// backing the bookkeeping space.
func NewBookkeeping(mgr *Manager, eng engine.Engine, task TaskID) *Bookkeeping {
	return &Bookkeeping{mgr: mgr, eng: eng, task: bookkeepingTask(task)}
}

// bookkeepingTask maps a caller's task to the reserved task its bookkeeping
// writes run under, so a bookkeeping statement never collides with the
// (already-prepared) transaction it is describing. Caller task IDs are
// conventionally non-negative; the reserved range is negative.
func bookkeepingTask(task TaskID) TaskID {
	return TaskID(-int64(task) - 1)
}

// txIDKey encodes a transaction id as a bookkeeping-space key.
func txIDKey(txID storage.TxID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(txID))
	return b
}

// coordIDValue encodes a coordinator id as a bookkeeping-row value.
func coordIDValue(coordID storage.CoordinatorID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(coordID))
	return b
}

// RecordPrepared inserts a bookkeeping row for a freshly prepared two-phase
// transaction, keyed by its tx_id and carrying its coordinator id.
func (b *Bookkeeping) RecordPrepared(txID storage.TxID, coordID storage.CoordinatorID) error {
	if _, err := b.mgr.BeginStatement(b.task, b.eng, bookkeepingSpace); err != nil {
		return err
	}
	return b.mgr.CommitStatement(CommitRequest{
		Task: b.task,
		Op:   record.OpInsert,
		Key:  txIDKey(txID),
		New:  coordIDValue(coordID),
	})
}

// MarkCommitted updates the bookkeeping row to record that the prepared
// transaction committed.
func (b *Bookkeeping) MarkCommitted(txID storage.TxID) error {
	return b.markOutcome(txID, outcomeCommitted)
}

// MarkRolledBack updates the bookkeeping row to record that the prepared
// transaction rolled back after prepare.
func (b *Bookkeeping) MarkRolledBack(txID storage.TxID) error {
	return b.markOutcome(txID, outcomeRolledBack)
}

func (b *Bookkeeping) markOutcome(txID storage.TxID, outcome []byte) error {
	if _, err := b.mgr.BeginStatement(b.task, b.eng, bookkeepingSpace); err != nil {
		return err
	}
	return b.mgr.CommitStatement(CommitRequest{
		Task: b.task,
		Op:   record.OpUpdate,
		Key:  txIDKey(txID),
		New:  outcome,
	})
}

// Clear removes the bookkeeping row for a transaction that has reached a
// terminal state (committed or rolled back after prepare).
func (b *Bookkeeping) Clear(txID storage.TxID) error {
	if _, err := b.mgr.BeginStatement(b.task, b.eng, bookkeepingSpace); err != nil {
		return err
	}
	return b.mgr.CommitStatement(CommitRequest{
		Task: b.task,
		Op:   record.OpDelete,
		Key:  txIDKey(txID),
	})
}
