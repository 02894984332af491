package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_provider_attempts_total",
			Help: "Generation attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // success|retryable|fatal
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"}, // hit|miss|error
	)

	Denials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_denials_total",
			Help: "Rejected requests by reason",
		},
		[]string{"reason", "detail"}, // access|quota|burst , state or metric
	)

	LedgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_ledger_events_total",
			Help: "Ledger anomalies: fail-open checks, failed increments, race overruns",
		},
		[]string{"event", "metric"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		ProviderAttempts,
		CacheLookups,
		Denials,
		LedgerEvents,
	)
}
