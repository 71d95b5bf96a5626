package wal

import (
	"github.com/nullvane/waltx/bus"
	"github.com/nullvane/waltx/record"
)

// DirectSubmitter adapts a Writer to txn.Submitter by wrapping the caller's
// rows in a single-request, single-batch round trip through the bus
// primitives and running WriteBatch synchronously on the calling
// goroutine. Real deployments with a dedicated writer goroutine would
// instead dispatch the batch onto a Bus and block for the ack; this
// collapses that into a direct call, which is equivalent as long as only
// one goroutine drives a given Writer (the transaction manager's
// single-task-at-a-time model already guarantees that for a given
// Transaction).
type DirectSubmitter struct {
	Writer *Writer
}

// Submit implements txn.Submitter.
func (s DirectSubmitter) Submit(rows []record.Row) (int64, error) {
	batch := bus.NewBatch()
	req := &bus.Request{Rows: rows}
	batch.Append(req)
	batch.Close()

	s.Writer.WriteBatch(batch)

	if req.Err != nil {
		return 0, req.Err
	}
	return req.Result, nil
}
