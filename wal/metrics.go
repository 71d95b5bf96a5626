package wal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nullvane/waltx/logfile"
)

// Metrics holds the prometheus collectors the writer and the log files it
// opens report against, mirroring the commitLogMetrics grouping from the M3
// reference but using client_golang in place of tally (this module has no
// tally dependency anywhere in its stack).
type Metrics struct {
	rowsWritten     prometheus.Counter
	batchesWritten  prometheus.Counter
	rotations       prometheus.Counter
	rollbackBatches prometheus.Counter
	flushSeconds    prometheus.Histogram

	lfMetrics *logfile.Metrics
}

// NewMetrics registers and returns a fresh Metrics set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "wal", Name: "rows_written_total",
			Help: "Rows durably written by the WAL writer.",
		}),
		batchesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "wal", Name: "batches_written_total",
			Help: "Batches processed by write_batch.",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "wal", Name: "rotations_total",
			Help: "Log file rotations performed by opt_rotate.",
		}),
		rollbackBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "wal", Name: "rollback_batches_total",
			Help: "Batches (or tails of batches) diverted into cascading rollback.",
		}),
		flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "waltx", Subsystem: "wal", Name: "flush_seconds",
			Help:    "Time spent in the flush step of write_batch.",
			Buckets: prometheus.DefBuckets,
		}),
		lfMetrics: logfile.NewMetrics(reg),
	}

	if reg != nil {
		reg.MustRegister(m.rowsWritten, m.batchesWritten, m.rotations, m.rollbackBatches, m.flushSeconds)
	}
	return m
}

// logfileMetrics returns the logfile.Metrics to hand each opened LogFile,
// nil-safe so a writer built without metrics still works.
func (m *Metrics) logfileMetrics() *logfile.Metrics {
	if m == nil {
		return nil
	}
	return m.lfMetrics
}
