package logfile

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors a LogFile reports against. A nil
// *Metrics (the zero value of the Options field) disables reporting.
type Metrics struct {
	flushSeconds  prometheus.Histogram
	writeErrors   prometheus.Counter
	tooLongWrites prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics set. Callers typically
// build one per process and share it across every LogFile instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "waltx",
			Subsystem: "logfile",
			Name:      "flush_seconds",
			Help:      "Time spent writing and syncing a pending batch to a log file.",
			Buckets:   prometheus.DefBuckets,
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx",
			Subsystem: "logfile",
			Name:      "write_errors_total",
			Help:      "Partial or failed writes to a log file that triggered a truncate-back.",
		}),
		tooLongWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx",
			Subsystem: "logfile",
			Name:      "too_long_writes_total",
			Help:      "Flushes that exceeded the configured too_long_threshold.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.flushSeconds, m.writeErrors, m.tooLongWrites)
	}

	return m
}
