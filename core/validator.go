package core

import (
	"context"
	"crypto/subtle"

	"aegis/metrics"
)

// TokenValidator decides whether a presented token matches the live token for
// a client. It is a pure decision function over the store: no side effects,
// no retries.
type TokenValidator struct {
	store TokenStore
}

// NewTokenValidator creates a validator backed by the given store.
func NewTokenValidator(store TokenStore) *TokenValidator {
	return &TokenValidator{store: store}
}

// IsValid reports whether presented matches the current unexpired token for
// client. The comparison is constant-time. A storage failure is returned as
// an error so callers can surface a server-side fault rather than a
// rejection.
func (tv *TokenValidator) IsValid(ctx context.Context, client, presented string) (bool, error) {
	if client == "" || presented == "" {
		metrics.TokenValidations.WithLabelValues(metrics.ValidationRejected).Inc()
		return false, nil
	}

	stored, err := tv.store.GetValidToken(ctx, client)
	if err != nil {
		metrics.TokenValidations.WithLabelValues(metrics.ValidationError).Inc()
		return false, err
	}
	if stored == nil {
		metrics.TokenValidations.WithLabelValues(metrics.ValidationRejected).Inc()
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored.Token), []byte(presented)) != 1 {
		metrics.TokenValidations.WithLabelValues(metrics.ValidationRejected).Inc()
		return false, nil
	}

	metrics.TokenValidations.WithLabelValues(metrics.ValidationAccepted).Inc()
	return true, nil
}
