package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis/metrics"

	"go.uber.org/zap"
)

// TokenIssuer mints and rotates per-client CSRF tokens. Each call writes a
// fresh random value with expiration now+TTL through the store's atomic
// upsert, so a client's expiration only ever moves forward.
type TokenIssuer struct {
	store     TokenStore
	generator TokenGenerator
	ttl       time.Duration
	logger    *zap.SugaredLogger
}

// NewTokenIssuer creates a token issuer backed by the given store and
// generator. The generator is injected so tests can supply a deterministic
// sequence.
func NewTokenIssuer(store TokenStore, generator TokenGenerator, ttl time.Duration, logger *zap.SugaredLogger) *TokenIssuer {
	return &TokenIssuer{
		store:     store,
		generator: generator,
		ttl:       ttl,
		logger:    logger,
	}
}

// IssueOrRotate issues a new token for client, replacing any existing one.
// The returned token carries the persisted expiration, which is strictly
// greater than that of any prior issuance for the same client.
func (ti *TokenIssuer) IssueOrRotate(ctx context.Context, client string) (*Token, error) {
	if client == "" {
		return nil, errors.New("client cannot be empty")
	}

	value, err := ti.generator.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token value: %w", err)
	}

	expiration := time.Now().UTC().Add(ti.ttl)
	token, err := ti.store.UpsertToken(ctx, client, value, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	metrics.TokensIssued.Inc()
	ti.logger.Debugw("Issued CSRF token", "client", client, "expiration", token.Expiration)
	return token, nil
}
