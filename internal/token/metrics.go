package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons recorded on tokensRejected.
const (
	reasonInvalid    = "invalid"
	reasonConsumed   = "consumed"
	reasonSuperseded = "superseded"
	reasonMismatch   = "mismatch"
)

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Tokens issued, by kind",
		},
		[]string{"kind"},
	)

	tokensRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_tokens_rejected_total",
			Help: "Tokens rejected, by kind and reason",
		},
		[]string{"kind", "reason"},
	)

	tokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_tokens_consumed_total",
			Help: "One-time tokens consumed, by kind",
		},
		[]string{"kind"},
	)

	registrySwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_registry_swept_total",
			Help: "Expired registry entries evicted by the sweeper, by registry",
		},
		[]string{"registry"},
	)
)
