package txn

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors the transaction manager reports
// against.
type Metrics struct {
	commits       prometheus.Counter
	rollbacks     prometheus.Counter
	prepares      prometheus.Counter
	triggerErrors prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "txn", Name: "commits_total",
			Help: "Transactions committed.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "txn", Name: "rollbacks_total",
			Help: "Transactions rolled back.",
		}),
		prepares: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "txn", Name: "prepares_total",
			Help: "Two-phase transactions prepared.",
		}),
		triggerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waltx", Subsystem: "txn", Name: "trigger_errors_total",
			Help: "Commit or rollback triggers that returned an error or panicked.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.rollbacks, m.prepares, m.triggerErrors)
	}
	return m
}
