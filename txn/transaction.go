// Package txn implements the transaction manager: per-task transaction
// state, accumulating statements, driving the storage engine, building redo
// rows, submitting them to the WAL writer, and coordinating two-phase
// commit with in-log PREPARE/COMMIT/ROLLBACK markers. A transaction is
// bound to one goroutine for its lifetime, generalized from a
// single-engine page-level transaction to a multi-statement,
// engine-pluggable transaction carrying its own redo row list.
package txn

import (
	"github.com/pkg/errors"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// maxSubStatementDepth bounds nested begin_statement calls, mirroring the
// original source's fixed sub-statement limit.
const maxSubStatementDepth = 3

// Trigger runs against a committed or rolled-back transaction. Commit
// triggers run after the transaction's frame is already durable: a
// trigger panic can never undo that commit, only surface as a post-commit
// fault (see Transaction.runCommitTriggers).
type Trigger func(*Transaction) error

// Statement is a single mutation within a transaction.
type Statement struct {
	Space    string
	OldTuple []byte
	NewTuple []byte

	// EngineSavepoint lets a single statement be undone via
	// RollbackStatement without aborting the whole transaction.
	EngineSavepoint engine.Savepoint

	// Row is nil for a read-only statement; commit_statement never logs
	// a read-only statement.
	Row *record.Row
}

// Transaction is the per-task accumulator: one goroutine's view of an
// in-flight transaction, from its first statement through commit or
// rollback.
type Transaction struct {
	TxID          storage.TxID
	CoordinatorID storage.CoordinatorID

	AutoCommit bool
	TwoPhase   bool
	Prepared   bool

	Statements   []*Statement
	SubStmtDepth int
	RowCount     int

	Engine    engine.Engine
	EngineTxn engine.Txn

	OnCommit   []Trigger
	OnRollback []Trigger

	rows []record.Row // accumulated redo rows, in commit order
}

// ErrSubStmtMax is returned when begin_statement would exceed the bound on
// nested sub-statement depth.
var ErrSubStmtMax = errors.New("txn: sub-statement depth exceeded")

// ErrAlreadyPrepared is returned by operations that are invalid once a
// two-phase transaction has been prepared.
var ErrAlreadyPrepared = errors.New("txn: transaction already prepared")

func newTransaction(txID storage.TxID, coordID storage.CoordinatorID, autoCommit, twoPhase bool) *Transaction {
	return &Transaction{
		TxID:          txID,
		CoordinatorID: coordID,
		AutoCommit:    autoCommit,
		TwoPhase:      twoPhase,
	}
}

// bindEngine enforces engine isolation: the first non-trivial statement
// binds the engine; every subsequent statement must use the same one.
func (t *Transaction) bindEngine(eng engine.Engine) error {
	if t.Engine == nil {
		t.Engine = eng
		etx, err := eng.Begin()
		if err != nil {
			return err
		}
		t.EngineTxn = etx
		return nil
	}
	if t.Engine != eng {
		return engine.ErrCrossEngineTransaction
	}
	return nil
}

// lastStatement returns the most recently opened, not-yet-committed
// statement.
func (t *Transaction) lastStatement() *Statement {
	if len(t.Statements) == 0 {
		return nil
	}
	return t.Statements[len(t.Statements)-1]
}

// runCommitTriggers runs every on-commit trigger in registration order. A
// panicking trigger is recovered and reported as err without affecting the
// commit that already landed on disk.
func (t *Transaction) runCommitTriggers() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("txn: commit trigger panicked after durable commit: %v", r)
		}
	}()
	for _, trig := range t.OnCommit {
		if terr := trig(t); terr != nil {
			return errors.Wrap(terr, "txn: commit trigger failed after durable commit")
		}
	}
	return nil
}

func (t *Transaction) runRollbackTriggers() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("txn: rollback trigger panicked: %v", r)
		}
	}()
	for _, trig := range t.OnRollback {
		if terr := trig(t); terr != nil {
			return errors.Wrap(terr, "txn: rollback trigger failed")
		}
	}
	return nil
}
