// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts orchestrated dispatch attempts by final outcome.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Total number of workflow dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// PollAttemptsTotal counts individual poll iterations.
	PollAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_attempts_total",
			Help: "Total number of status poll iterations.",
		},
	)

	// TransientFetchErrors counts listing/detail fetch errors that were
	// absorbed by the poll loop and retried on the next tick.
	TransientFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transient_fetch_errors_total",
			Help: "Total number of transient fetch errors swallowed while polling.",
		},
	)

	// CredentialHandouts counts keys served by the rotator per service.
	CredentialHandouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_handouts_total",
			Help: "Total number of API keys handed out by the rotator.",
		},
		[]string{"service"},
	)

	// CredentialPoolSize reports the loaded pool size per service.
	CredentialPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credential_pool_size",
			Help: "Number of keys loaded for a service.",
		},
		[]string{"service"},
	)
)
