// Package wal implements the writer-thread state machine: accepting
// batches, rotating files, writing rows under transactional atomicity,
// emitting per-request results, driving cascading rollback on I/O failure,
// and notifying watchers.
//
// Writer state is single-consumer: one owning goroutine, a writerState
// struct kept separate from rollback and metrics state, and explicit state
// transitions rather than ad hoc flag checks.
package wal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/bus"
	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/logfile"
	"github.com/nullvane/waltx/storage"
)

// State is the cascading-rollback state machine's current phase.
type State int

const (
	StateNormal State = iota
	StateDraining
	StateRollingBack
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDraining:
		return "draining"
	case StateRollingBack:
		return "rolling_back"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ErrWriterClosed is returned by WriteBatch once the writer has shut down.
var ErrWriterClosed = errors.New("wal: writer is closed")

// Options configures a Writer.
type Options struct {
	Dir          *logdir.Directory
	Mode         logfile.Mode
	RowsPerFile  int64
	OwnReplicaID storage.ReplicaID
	ServerUUID   uuid.UUID
	Log          *logrus.Entry
	Metrics      *Metrics
}

// writerState groups the fields only the owning goroutine (via WriteBatch)
// mutates under normal operation; a mutex guards them anyway for
// Checkpoint, which may be invoked from another goroutine.
type writerState struct {
	sync.Mutex
	file   *logfile.LogFile
	vclock storage.Vclock
	active bool
}

// rollbackState is deliberately separate from writerState: the rollback
// queue is appended to from WriteBatch while rollback draining may run
// concurrently, and sharing one lock risks the same kind of reentrancy
// hazard the M3 reference calls out between its writerState and
// flushState.
type rollbackState struct {
	sync.Mutex
	state State
	queue []*bus.Request
}

// Writer is the C5 writer-thread state machine. All methods are safe to
// call from the goroutine that owns the writer; Checkpoint and watcher
// attach/detach are additionally safe from any goroutine.
type Writer struct {
	opts Options
	log  *logrus.Entry

	ws rollbackState
	st writerState

	// pendingSignature is the vclock signature of the currently open
	// file, only meaningful while st.file != nil. Touched only from
	// within WriteBatch/Close/Checkpoint, all of which hold st's lock.
	pendingSignature int64

	watchers   map[int]Watcher
	watchersMu sync.Mutex
	nextWatch  int
}

// New constructs a Writer. It does not open a log file; the first call to
// WriteBatch triggers rotation into a fresh one.
func New(opts Options) *Writer {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.RowsPerFile <= 0 {
		opts.RowsPerFile = 1 << 20
	}

	w := &Writer{
		opts:     opts,
		log:      log,
		watchers: make(map[int]Watcher),
	}
	w.st.vclock = storage.Vclock{}
	w.st.active = true
	return w
}

// VClock returns a copy of the writer's authoritative vector clock.
func (w *Writer) VClock() storage.Vclock {
	w.st.Lock()
	defer w.st.Unlock()
	return w.st.vclock.Clone()
}

// WriteBatch is the writer's main handler, run to completion for one
// incoming batch: rotate if needed, write every request's rows as one
// transactional frame, flush, assign results, and cascade-rollback any
// uncommitted tail on failure.
func (w *Writer) WriteBatch(batch *bus.Batch) {
	w.st.Lock()
	active := w.st.active
	w.st.Unlock()
	if !active {
		for _, req := range batch.Requests {
			req.Result = bus.ErrResult
			req.Err = ErrWriterClosed
		}
		return
	}

	w.ws.Lock()
	inRollback := w.ws.state != StateNormal
	w.ws.Unlock()

	// Step 1: a batch arriving while rollback is draining/active is
	// steered entirely into the rollback queue.
	if inRollback {
		w.enqueueRollback(batch.Requests, errors.New("wal: writer is rolling back"))
		return
	}

	w.st.Lock()
	defer w.st.Unlock()

	// Step 2: opt_rotate.
	if err := w.optRotateLocked(); err != nil {
		w.log.WithError(err).Error("wal rotation failed, beginning cascading rollback")
		w.enqueueRollback(batch.Requests, err)
		return
	}

	lastCommitted := -1

	// cursor tracks the next LSN to hand out per replica across the whole
	// batch, seeded from the durable vclock; it advances once per row
	// (not once per request) so two rows targeting the same replica never
	// collide on the same LSN. The authoritative vclock itself is only
	// advanced in step 5, once a request is known to be durable.
	cursor := w.st.vclock.Clone()

	for i, req := range batch.Requests {
		w.st.file.BeginTx()

		ok := true
		for ri := range req.Rows {
			row := &req.Rows[ri]
			if row.ReplicaID == 0 {
				row.ReplicaID = w.opts.OwnReplicaID
			}
			cursor[row.ReplicaID]++
			row.LSN = cursor[row.ReplicaID]
			row.InvalidateEncoded()

			if n := w.st.file.WriteRow(*row); n < 0 {
				ok = false
				break
			}
		}

		if !ok {
			w.st.file.RollbackTx()
			break
		}

		if _, err := w.st.file.CommitTx(); err != nil {
			// A partial writev already truncated the file back; this
			// request never made it.
			w.log.WithError(err).Warn("wal commit_tx failed mid-batch")
			break
		}

		lastCommitted = i
	}

	// Step 4: flush.
	if lastCommitted >= 0 {
		start := time.Now()
		if err := w.st.file.Flush(); err != nil {
			w.log.WithError(err).Error("wal flush failed after commit_tx succeeded")
			lastCommitted = -1
		}
		if w.opts.Metrics != nil {
			w.opts.Metrics.flushSeconds.Observe(time.Since(start).Seconds())
		}
	}
	if w.opts.Metrics != nil {
		w.opts.Metrics.batchesWritten.Inc()
	}

	// Step 5: advance vclock and assign results for every fully
	// committed request.
	for i := 0; i <= lastCommitted; i++ {
		req := batch.Requests[i]
		if len(req.Rows) == 0 {
			continue
		}
		last := req.Rows[len(req.Rows)-1]
		w.st.vclock.Advance(last.ReplicaID, last.LSN)
		req.Result = w.st.vclock.Signature()
		req.Err = nil
		if w.opts.Metrics != nil {
			w.opts.Metrics.rowsWritten.Add(float64(len(req.Rows)))
		}
	}

	// Step 6: anything past lastCommitted is rolled back.
	if lastCommitted+1 < len(batch.Requests) {
		failed := batch.Requests[lastCommitted+1:]
		w.enqueueRollback(failed, errors.New("wal: request not durable, rolled back"))
	}

	// Step 7: notify watchers, only if something reached the file.
	if lastCommitted >= 0 {
		w.notifyWatchers()
	}
}

// optRotateLocked implements opt_rotate: close the current file if it has
// reached the row threshold (or none is open yet), then open a fresh one.
// Callers must hold w.st.
func (w *Writer) optRotateLocked() error {
	if w.st.file != nil && w.st.file.RowCount() < w.opts.RowsPerFile {
		return nil
	}

	if w.st.file != nil {
		old := w.st.file
		w.st.file = nil
		if err := old.Close(false); err != nil {
			return errors.Wrap(err, "wal: closing file for rotation")
		}
		w.opts.Dir.Record(w.pendingSignature)
		if w.opts.Metrics != nil {
			w.opts.Metrics.rotations.Inc()
		}
	}

	sig, _, err := w.opts.Dir.CreateXlog(w.st.vclock)
	if err != nil {
		return errors.Wrap(err, "wal: allocating new log file")
	}

	lf, err := logfile.Create(logfile.Options{
		Dir:     w.opts.Dir.Path(),
		Mode:    w.opts.Mode,
		Log:     w.log,
		Metrics: w.opts.Metrics.logfileMetrics(),
	}, sig, w.opts.ServerUUID, w.st.vclock)
	if err != nil {
		return errors.Wrap(err, "wal: creating new log file")
	}

	w.st.file = lf
	w.pendingSignature = sig
	return nil
}

// Close flushes and closes the current file (if any) and records it in the
// directory index if it holds at least one row.
func (w *Writer) Close() error {
	w.st.Lock()
	defer w.st.Unlock()
	w.st.active = false
	return w.closeCurrentLocked()
}

func (w *Writer) closeCurrentLocked() error {
	if w.st.file == nil {
		return nil
	}
	rows := w.st.file.RowCount()
	sig := w.pendingSignature
	if err := w.st.file.Close(rows == 0); err != nil {
		return err
	}
	if rows > 0 {
		w.opts.Dir.Record(sig)
	}
	w.st.file = nil
	return nil
}

// Checkpoint implements the checkpoint(vclock, rotate) request: if rotate
// is set and the current file has written rows, it is closed so the next
// write opens a fresh one; the writer's vclock snapshot is always returned.
func (w *Writer) Checkpoint(rotate bool) (storage.Vclock, error) {
	w.st.Lock()
	defer w.st.Unlock()

	if rotate && w.st.file != nil && w.st.file.RowCount() > 0 {
		if err := w.closeCurrentLocked(); err != nil {
			return nil, err
		}
	}
	return w.st.vclock.Clone(), nil
}
