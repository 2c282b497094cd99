package bootstrap

import (
	"context"
	"fmt"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the initialized storage backend. Exactly one of
// SQLite or Redis is non-nil depending on the configured backend.
type StorageComponents struct {
	TokenStore core.TokenStore
	SQLite     *storage.SQLite
	Redis      *storage.RedisTokenStorage
}

// InitTokenStorage selects and initializes the token store backend.
func InitTokenStorage(cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		sugar.Infof("SQLite token store initialized at %s", cfg.GetSQLitePath())
		return &StorageComponents{
			TokenStore: storage.NewSQLiteTokenStorage(sqlite, sugar),
			SQLite:     sqlite,
		}, nil

	case config.BackendRedis:
		redis := storage.NewRedisTokenStorage(
			cfg.Storage.Redis.Addr,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
			cfg.Storage.Redis.PoolSize,
			sugar,
		)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		sugar.Infof("Redis token store initialized at %s", cfg.Storage.Redis.Addr)
		return &StorageComponents{
			TokenStore: redis,
			Redis:      redis,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// Close releases the backend's connections.
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.SQLite != nil {
		s.SQLite.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
}
