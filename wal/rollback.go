package wal

import (
	"github.com/nullvane/waltx/bus"
)

// enqueueRollback implements the draining → rolling_back → recovering →
// normal transitions of the cascading rollback state machine. The full bus
// round trip (an empty "clear-bus" message traveling writer → tx → writer →
// tx, with the non-empty rollback queue acting as a valve for any batch
// that arrives in the meantime) is collapsed here into a single synchronous
// call: nothing else may run on the writer goroutine while it is rolling
// back a batch, so the valve and the drain happen back-to-back with the
// same effect as the two-hop trip.
//
// Consequence: on the calling goroutine the valve never engages — by the
// time this call returns the state is back to StateNormal, so the next
// WriteBatch on that goroutine is written normally. StateDraining is never
// observable, since it is overwritten inside the same critical section. A
// WriteBatch call from another goroutine that happens to land between this
// function's two w.ws.Lock() sections sees StateRollingBack in its Step 1
// check and is rolled back in turn, but nothing here deliberately
// constructs or exercises that race.
func (w *Writer) enqueueRollback(reqs []*bus.Request, cause error) {
	if len(reqs) == 0 {
		return
	}

	w.ws.Lock()
	w.ws.state = StateDraining
	w.ws.queue = append(w.ws.queue, reqs...)
	queue := w.ws.queue
	w.ws.queue = nil
	w.ws.state = StateRollingBack
	w.ws.Unlock()

	if w.opts.Metrics != nil {
		w.opts.Metrics.rollbackBatches.Inc()
	}

	// Undo in LIFO order: the last request enqueued is the first unwound.
	for i := len(queue) - 1; i >= 0; i-- {
		req := queue[i]
		req.Result = bus.ErrResult
		req.Err = cause
	}

	w.ws.Lock()
	w.ws.state = StateRecovering
	w.ws.state = StateNormal
	w.ws.Unlock()

	w.log.WithError(cause).WithField("requests", len(queue)).Warn("wal cascading rollback complete")
}

// RollbackState reports the writer's current cascading-rollback phase.
func (w *Writer) RollbackState() State {
	w.ws.Lock()
	defer w.ws.Unlock()
	return w.ws.state
}
