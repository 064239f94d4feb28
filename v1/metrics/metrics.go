package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireAttempts tracks individual conditional-create attempts,
	// including retries within a single Acquire call.
	AcquireAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_acquire_attempts_total",
		Help: "Total number of lock acquisition attempts",
	})
	// AcquireConflicts tracks attempts that failed because the lock was held
	// by someone else.
	AcquireConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_acquire_conflicts_total",
		Help: "Total number of acquisition attempts rejected by a held lock",
	})
	// Acquires tracks successful acquisitions.
	Acquires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_acquires_total",
		Help: "Total number of successful lock acquisitions",
	})
	// Renewals tracks successful lease renewals.
	Renewals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_renewals_total",
		Help: "Total number of successful lease renewals",
	})
	// RenewFailures tracks failed lease renewals, terminal and transient alike.
	RenewFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_renewal_failures_total",
		Help: "Total number of failed lease renewals",
	})
	// Releases tracks lock releases, idempotent repeats excluded.
	Releases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvlock_releases_total",
		Help: "Total number of lock releases",
	})
	// ActiveRenewers reports the number of running background renewers.
	ActiveRenewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvlock_active_renewers",
		Help: "Current number of background lease renewers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers kvlock core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireAttempts, AcquireConflicts, Acquires, Renewals, RenewFailures, Releases, ActiveRenewers)
}
