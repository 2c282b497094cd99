package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aegis/core"

	"go.uber.org/zap"
)

// SQLiteTokenStorage implements core.TokenStore using SQLite.
type SQLiteTokenStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteTokenStorage creates a new SQLite-based token storage
func NewSQLiteTokenStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteTokenStorage {
	return &SQLiteTokenStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// UpsertToken writes the token row for client in a single conditional
// statement, so concurrent rotations for the same client serialize on the
// writer without a read-then-write window. The update clause keeps the
// expiration strictly increasing even if two issuances carry the same clock
// reading.
func (sts *SQLiteTokenStorage) UpsertToken(ctx context.Context, client, token string, expiration time.Time) (*core.Token, error) {
	if client == "" {
		return nil, ErrInvalidClient
	}

	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO csrf_tokens (client, token, expiration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client) DO UPDATE SET
			token = excluded.token,
			expiration = MAX(excluded.expiration, csrf_tokens.expiration + 1),
			updated_at = excluded.updated_at
		RETURNING client, token, expiration
	`

	var persisted core.Token
	var expNanos int64
	err := sts.sqlite.WriteDB.QueryRowContext(ctx, query,
		client,
		token,
		expiration.UnixNano(),
		now,
		now,
	).Scan(&persisted.Client, &persisted.Token, &expNanos)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert token: %w", err)
	}

	persisted.Expiration = time.Unix(0, expNanos).UTC()
	return &persisted, nil
}

// GetValidToken returns the row for client only if it has not expired.
// Unknown clients and expired rows both yield (nil, nil).
func (sts *SQLiteTokenStorage) GetValidToken(ctx context.Context, client string) (*core.Token, error) {
	query := `
		SELECT client, token, expiration
		FROM csrf_tokens
		WHERE client = ? AND expiration > ?
	`

	var token core.Token
	var expNanos int64
	err := sts.sqlite.ReadDB.QueryRowContext(ctx, query, client, time.Now().UTC().UnixNano()).Scan(
		&token.Client,
		&token.Token,
		&expNanos,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	token.Expiration = time.Unix(0, expNanos).UTC()
	return &token, nil
}

// DeleteExpiredTokens removes every row whose expiration has passed. The
// predicate is evaluated against committed state at delete time, so a
// rotation that lands first produces a fresh expiration and survives.
func (sts *SQLiteTokenStorage) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	result, err := sts.sqlite.WriteDB.ExecContext(ctx,
		`DELETE FROM csrf_tokens WHERE expiration <= ?`,
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted tokens: %w", err)
	}

	if removed > 0 {
		sts.logger.Debugf("Deleted %d expired CSRF tokens", removed)
	}
	return removed, nil
}
