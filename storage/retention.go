package storage

import (
	"context"
	"time"

	"aegis/core"
	"aegis/metrics"
	"aegis/util/goroutine"

	"go.uber.org/zap"
)

// RetentionManager sweeps expired tokens out of storage on an interval.
// Reads already filter by expiration, so the sweep is purely a
// space-reclamation concern; a failed sweep leaves rows for the next run.
type RetentionManager struct {
	store         core.TokenStore
	checkInterval time.Duration
	logger        *zap.SugaredLogger
	stopCh        chan struct{}
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(store core.TokenStore, checkInterval time.Duration, logger *zap.SugaredLogger) *RetentionManager {
	return &RetentionManager{
		store:         store,
		checkInterval: checkInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the retention manager
func (rm *RetentionManager) Start() {
	go rm.run()
}

func (rm *RetentionManager) run() {
	defer goroutine.Recover("token-retention", rm.logger)

	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors are logged in Sweep; never fatal to the serving path
			_, _ = rm.Sweep(context.Background())
		case <-rm.stopCh:
			return
		}
	}
}

// Stop stops the retention manager
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
}

// Sweep removes expired tokens once and returns the number removed.
func (rm *RetentionManager) Sweep(ctx context.Context) (int64, error) {
	removed, err := rm.store.DeleteExpiredTokens(ctx)
	if err != nil {
		metrics.SweepFailures.Inc()
		rm.logger.Errorf("Failed to sweep expired tokens: %v", err)
		return 0, err
	}

	metrics.TokensReaped.Add(float64(removed))
	if removed > 0 {
		rm.logger.Infow("Swept expired CSRF tokens", "removed", removed)
	}
	return removed, nil
}
