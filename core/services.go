package core

import (
	"context"
	"time"
)

// TokenStore is the persistence contract for CSRF tokens. It is the single
// point of invariant enforcement: all components reach storage through it.
type TokenStore interface {
	// UpsertToken atomically writes the token row for client, creating it if
	// absent and replacing value and expiration otherwise. Concurrent calls
	// for the same client serialize; the persisted row reflects exactly one
	// of them. Returns the row as persisted.
	UpsertToken(ctx context.Context, client, token string, expiration time.Time) (*Token, error)

	// GetValidToken returns the token for client only if its expiration is in
	// the future. Unknown clients and expired rows both return (nil, nil);
	// errors are reserved for storage failures.
	GetValidToken(ctx context.Context, client string) (*Token, error)

	// DeleteExpiredTokens removes every row whose expiration has passed and
	// returns the number removed. Idempotent.
	DeleteExpiredTokens(ctx context.Context) (int64, error)
}
