package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens issued or rotated",
		},
	)

	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_csrf_token_validations_total",
			Help: "Total number of CSRF token validations by result",
		},
		[]string{"result"},
	)

	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_csrf_requests_rejected_total",
			Help: "Total number of requests rejected by the CSRF middleware",
		},
		[]string{"reason"},
	)

	TokensReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_csrf_tokens_reaped_total",
			Help: "Total number of expired CSRF tokens removed by sweeps",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_csrf_sweep_failures_total",
			Help: "Total number of failed expired-token sweeps",
		},
	)

	APIPanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_api_panics_recovered_total",
			Help: "Total number of panics recovered in API handlers",
		},
		[]string{"method", "path"},
	)
)

// Validation result labels for TokenValidations.
const (
	ValidationAccepted = "accepted"
	ValidationRejected = "rejected"
	ValidationError    = "error"
)
