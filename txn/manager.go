package txn

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// TaskID identifies the logical caller a Transaction is bound to — the Go
// analogue of the fiber/task a transaction is exclusively owned by in the
// original source. Callers are expected to hand out a unique TaskID per
// logical session (e.g. an atomic counter, a connection id).
type TaskID int64

// ErrActiveTransaction is returned by Begin/BeginTwoPhase when the task
// already has an open transaction.
var ErrActiveTransaction = errors.New("txn: task already has an active transaction")

// ErrNoActiveTransaction is returned by every operation that requires one.
var ErrNoActiveTransaction = errors.New("txn: no active transaction for task")

// ErrCommitBeforePrepare is returned by Commit on a two-phase transaction
// that has not been prepared yet.
var ErrCommitBeforePrepare = errors.New("txn: two-phase transaction must be prepared before commit")

// ErrCommitInSubStmt and ErrRollbackInSubStmt guard commit/rollback of the
// whole transaction while a sub-statement is still open.
var (
	ErrCommitInSubStmt   = errors.New("txn: cannot commit with an open sub-statement")
	ErrRollbackInSubStmt = errors.New("txn: cannot rollback with an open sub-statement")
)

// Submitter hands a transaction's accumulated rows to the WAL writer and
// reports the durable signature (vclock sum) or an error. Implementations
// typically wrap a bus.Batch/wal.Writer pair.
type Submitter interface {
	Submit(rows []record.Row) (signature int64, err error)
}

// Manager is the transaction manager (C6): all transactions currently open
// across every task, keyed by TaskID.
type Manager struct {
	mu    sync.Mutex
	open  map[TaskID]*Transaction
	txSeq int64

	submitter Submitter
	log       *logrus.Entry
	metrics   *Metrics
}

// NewManager constructs a Manager submitting committed rows through sub.
func NewManager(sub Submitter, log *logrus.Entry, metrics *Metrics) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		open:      make(map[TaskID]*Transaction),
		submitter: sub,
		log:       log,
		metrics:   metrics,
	}
}

func (m *Manager) nextTxID() storage.TxID {
	m.txSeq++
	return storage.TxID(m.txSeq)
}

// Begin starts a one-phase transaction bound to task. Fails if task already
// has one.
func (m *Manager) Begin(task TaskID, autoCommit bool) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.open[task]; exists {
		return nil, ErrActiveTransaction
	}
	t := newTransaction(m.nextTxID(), 0, autoCommit, false)
	m.open[task] = t
	return t, nil
}

// BeginTwoPhase starts a two-phase transaction with caller-supplied
// identifiers carried on every row it logs.
func (m *Manager) BeginTwoPhase(task TaskID, txID storage.TxID, coordID storage.CoordinatorID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.open[task]; exists {
		return nil, ErrActiveTransaction
	}
	t := newTransaction(txID, coordID, false, true)
	m.open[task] = t
	return t, nil
}

func (m *Manager) get(task TaskID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.open[task]
	if !ok {
		return nil, ErrNoActiveTransaction
	}
	return t, nil
}

// BeginStatement opens a new statement on task's transaction, creating an
// auto-commit transaction implicitly if none exists yet. It binds the
// engine on the first call.
func (m *Manager) BeginStatement(task TaskID, eng engine.Engine, space string) (*Statement, error) {
	m.mu.Lock()
	t, ok := m.open[task]
	if !ok {
		t = newTransaction(m.nextTxID(), 0, true, false)
		m.open[task] = t
	}
	m.mu.Unlock()

	if t.Prepared {
		return nil, ErrAlreadyPrepared
	}
	if t.SubStmtDepth >= maxSubStatementDepth {
		return nil, ErrSubStmtMax
	}

	if err := t.bindEngine(eng); err != nil {
		return nil, err
	}

	sp, err := t.Engine.BeginStatement(t.EngineTxn)
	if err != nil {
		return nil, errors.Wrap(err, "txn: engine begin_statement")
	}

	stmt := &Statement{Space: space, EngineSavepoint: sp}
	t.Statements = append(t.Statements, stmt)
	t.SubStmtDepth++
	return stmt, nil
}

// CommitRequest carries the information needed to build or reuse a redo
// row for the last-opened statement.
type CommitRequest struct {
	Task TaskID
	Op   record.Op
	Key  []byte
	Old  []byte
	New  []byte

	// Header, if non-nil, is a pre-built row the caller wants reused
	// verbatim instead of one built from Op/Key/New. The WAL writer still
	// re-encodes it when it stamps the row's LSN.
	Header *record.Row
}

// CommitStatement closes the task's last-opened statement: applies the
// mutation to the engine, builds (or reuses) a redo row whenever the engine
// returns a row body, appends it to the transaction, and auto-commits if
// this was the outermost statement of an auto-commit transaction. Every
// space is logged; there is no notion of a temporary, unlogged space.
func (m *Manager) CommitStatement(req CommitRequest) error {
	t, err := m.get(req.Task)
	if err != nil {
		return err
	}

	stmt := t.lastStatement()
	if stmt == nil {
		return ErrNoActiveTransaction
	}

	body, err := t.Engine.Apply(t.EngineTxn, stmt.Space, req.Op, req.Key, req.Old, req.New)
	if err != nil {
		return errors.Wrap(err, "txn: engine apply")
	}

	if body != nil {
		var row record.Row
		if req.Header != nil {
			row = *req.Header // reuse verbatim, including any cached encoding
		} else {
			row = record.Row{
				Op:            req.Op,
				TxID:          t.TxID,
				CoordinatorID: t.CoordinatorID,
				Body:          body,
			}
		}
		stmt.Row = &row
		stmt.OldTuple = req.Old
		stmt.NewTuple = req.New
		t.rows = append(t.rows, row)
		t.RowCount++
	}

	t.SubStmtDepth--
	if t.AutoCommit && t.SubStmtDepth == 0 {
		return m.Commit(req.Task)
	}
	return nil
}

// RollbackStatement undoes the task's last-opened statement via the
// engine's savepoint, detaching its row (if any) from the transaction.
func (m *Manager) RollbackStatement(task TaskID) error {
	t, err := m.get(task)
	if err != nil {
		return err
	}

	stmt := t.lastStatement()
	if stmt == nil {
		return ErrNoActiveTransaction
	}

	if err := t.Engine.RollbackStatement(t.EngineTxn, stmt.EngineSavepoint); err != nil {
		return errors.Wrap(err, "txn: engine rollback_statement")
	}

	if stmt.Row != nil {
		t.RowCount--
		if n := len(t.rows); n > 0 {
			t.rows = t.rows[:n-1]
		}
	}
	t.Statements = t.Statements[:len(t.Statements)-1]
	t.SubStmtDepth--

	if t.AutoCommit && t.SubStmtDepth == 0 {
		return m.Rollback(task)
	}
	return nil
}

// PrepareTwoPhase writes the PREPARE marker (and, if row count > 0, every
// accumulated row) atomically, then asks the engine to begin its own
// prepare phase.
func (m *Manager) PrepareTwoPhase(task TaskID) error {
	t, err := m.get(task)
	if err != nil {
		return err
	}
	if !t.TwoPhase {
		return errors.New("txn: prepare_two_phase on a one-phase transaction")
	}
	if t.Prepared {
		return ErrAlreadyPrepared
	}

	prepareRow := record.Row{Op: record.OpPrepare, TxID: t.TxID, CoordinatorID: t.CoordinatorID}

	var frame []record.Row
	frame = append(frame, prepareRow)
	if t.RowCount > 0 {
		frame = append(frame, t.rows...)
	}

	sig, err := m.submitter.Submit(frame)
	if err != nil {
		return errors.Wrap(err, "txn: submitting prepare frame")
	}

	if t.Engine != nil {
		if err := t.Engine.Prepare(t.EngineTxn); err != nil {
			return errors.Wrap(err, "txn: engine prepare")
		}
		bk := NewBookkeeping(m, t.Engine, task)
		if err := bk.RecordPrepared(t.TxID, t.CoordinatorID); err != nil {
			return errors.Wrap(err, "txn: recording bookkeeping prepared row")
		}
	}

	m.log.WithField("tx_id", t.TxID).WithField("signature", sig).Debug("two-phase transaction prepared")
	t.Prepared = true
	if m.metrics != nil {
		m.metrics.prepares.Inc()
	}
	return nil
}

// Commit commits task's transaction: one-phase transactions write every
// accumulated row in a single atomic frame; two-phase transactions (which
// must already be prepared) write just a COMMIT marker referencing the
// tx_id. Commit triggers run after the frame is durable.
func (m *Manager) Commit(task TaskID) error {
	t, err := m.get(task)
	if err != nil {
		return err
	}
	if t.SubStmtDepth > 0 {
		return ErrCommitInSubStmt
	}
	if t.TwoPhase && !t.Prepared {
		return ErrCommitBeforePrepare
	}

	if t.Engine != nil && !t.TwoPhase {
		if err := t.Engine.Prepare(t.EngineTxn); err != nil {
			return errors.Wrap(err, "txn: engine prepare")
		}
	}

	var sig int64
	if t.RowCount > 0 {
		var frame []record.Row
		if t.TwoPhase {
			frame = []record.Row{{Op: record.OpCommit, TxID: t.TxID, CoordinatorID: t.CoordinatorID}}
		} else {
			frame = t.rows
		}
		sig, err = m.submitter.Submit(frame)
		if err != nil {
			return errors.Wrap(err, "txn: submitting commit frame")
		}
	}

	if t.TwoPhase && t.Prepared && t.Engine != nil {
		bk := NewBookkeeping(m, t.Engine, task)
		if err := bk.MarkCommitted(t.TxID); err != nil {
			return errors.Wrap(err, "txn: marking bookkeeping row committed")
		}
		if err := bk.Clear(t.TxID); err != nil {
			return errors.Wrap(err, "txn: clearing bookkeeping row")
		}
	}

	if terr := t.runCommitTriggers(); terr != nil {
		m.log.WithError(terr).WithField("tx_id", t.TxID).Error("commit trigger failed after durable commit")
		if m.metrics != nil {
			m.metrics.triggerErrors.Inc()
		}
	}

	if t.Engine != nil {
		if err := t.Engine.Commit(t.EngineTxn, sig); err != nil {
			return errors.Wrap(err, "txn: engine commit")
		}
	}

	if m.metrics != nil {
		m.metrics.commits.Inc()
	}
	m.destroy(task)
	return nil
}

// Rollback aborts task's transaction. For a two-phase transaction that was
// already prepared, a ROLLBACK marker is written so recovery knows the
// prior PREPARE was aborted. Rolling back a task with no open transaction
// (never started, or already finished) is a no-op.
func (m *Manager) Rollback(task TaskID) error {
	t, err := m.get(task)
	if err != nil {
		return nil
	}
	if t.SubStmtDepth > 0 {
		return ErrRollbackInSubStmt
	}

	if terr := t.runRollbackTriggers(); terr != nil {
		m.log.WithError(terr).WithField("tx_id", t.TxID).Warn("rollback trigger failed")
		if m.metrics != nil {
			m.metrics.triggerErrors.Inc()
		}
	}

	if t.TwoPhase && t.Prepared {
		marker := record.Row{Op: record.OpRollback, TxID: t.TxID, CoordinatorID: t.CoordinatorID}
		if _, err := m.submitter.Submit([]record.Row{marker}); err != nil {
			m.log.WithError(err).WithField("tx_id", t.TxID).Error("failed to log rollback-after-prepare marker")
		}

		if t.Engine != nil {
			bk := NewBookkeeping(m, t.Engine, task)
			if err := bk.MarkRolledBack(t.TxID); err != nil {
				m.log.WithError(err).WithField("tx_id", t.TxID).Error("failed to mark bookkeeping row rolled back")
			} else if err := bk.Clear(t.TxID); err != nil {
				m.log.WithError(err).WithField("tx_id", t.TxID).Error("failed to clear bookkeeping row")
			}
		}
	}

	if t.Engine != nil {
		if err := t.Engine.Rollback(t.EngineTxn); err != nil {
			return errors.Wrap(err, "txn: engine rollback")
		}
	}

	if m.metrics != nil {
		m.metrics.rollbacks.Inc()
	}
	m.destroy(task)
	return nil
}

func (m *Manager) destroy(task TaskID) {
	m.mu.Lock()
	delete(m.open, task)
	m.mu.Unlock()
}

// InTransaction reports whether task currently has an open transaction.
func (m *Manager) InTransaction(task TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[task]
	return ok
}
