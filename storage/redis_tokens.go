package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenKeyPrefix namespaces token records in Redis.
const tokenKeyPrefix = "csrf:token:"

// tokenRecord is the JSON shape stored per client key.
type tokenRecord struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// RedisTokenStorage implements core.TokenStore on Redis. Each client maps to
// a single key, so upserts are single-key SETs and never produce duplicate
// rows. Keys carry a TTL matching the token expiration; the sweep exists for
// records whose TTL could not be applied.
type RedisTokenStorage struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisTokenStorage creates a Redis-backed token storage.
func NewRedisTokenStorage(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisTokenStorage {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisTokenStorage{
		client: client,
		logger: logger,
	}
}

// NewRedisTokenStorageFromClient wraps an existing Redis client. Used by
// tests running against miniredis.
func NewRedisTokenStorageFromClient(client *redis.Client, logger *zap.SugaredLogger) *RedisTokenStorage {
	return &RedisTokenStorage{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rts *RedisTokenStorage) Ping(ctx context.Context) error {
	return rts.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rts *RedisTokenStorage) Close() error {
	return rts.client.Close()
}

func tokenKey(client string) string {
	return tokenKeyPrefix + client
}

// UpsertToken writes the record for client as a single SET with a TTL
// matching the expiration. Concurrent writers for the same client serialize
// on the key; the record reflects exactly one of them.
func (rts *RedisTokenStorage) UpsertToken(ctx context.Context, client, token string, expiration time.Time) (*core.Token, error) {
	if client == "" {
		return nil, ErrInvalidClient
	}

	record := tokenRecord{
		Token:      token,
		Expiration: expiration.UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token record: %w", err)
	}

	// An already-expired expiration (only reachable from test fixtures) gets
	// no TTL; the sweep reclaims it.
	ttl := time.Until(expiration)
	if ttl <= 0 {
		ttl = 0
	}

	if err := rts.client.Set(ctx, tokenKey(client), data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to upsert token: %w", err)
	}

	return &core.Token{
		Client:     client,
		Token:      token,
		Expiration: expiration.UTC(),
	}, nil
}

// GetValidToken returns the record for client only if it has not expired.
func (rts *RedisTokenStorage) GetValidToken(ctx context.Context, client string) (*core.Token, error) {
	data, err := rts.client.Get(ctx, tokenKey(client)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var record tokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}

	// The key TTL usually handles expiry, but the record's own expiration is
	// authoritative.
	if !record.Expiration.After(time.Now().UTC()) {
		return nil, nil
	}

	return &core.Token{
		Client:     client,
		Token:      record.Token,
		Expiration: record.Expiration,
	}, nil
}

// DeleteExpiredTokens scans the token keyspace and removes records whose
// expiration has passed. Most expired keys vanish via TTL before the sweep
// sees them.
func (rts *RedisTokenStorage) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var removed int64

	iter := rts.client.Scan(ctx, 0, tokenKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := rts.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read token %s: %w", key, err)
		}

		var record tokenRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			rts.logger.Warnf("Removing malformed token record %s: %v", key, err)
			if delErr := rts.client.Del(ctx, key).Err(); delErr != nil {
				return removed, fmt.Errorf("failed to delete token %s: %w", key, delErr)
			}
			removed++
			continue
		}

		if record.Expiration.After(now) {
			continue
		}

		if err := rts.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete token %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan token keys: %w", err)
	}

	return removed, nil
}
