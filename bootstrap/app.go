// Package bootstrap wires the application together: logger, configuration,
// storage backend, token services, retention, and the API server.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aegis/api"
	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"go.uber.org/zap"
)

// App represents the Aegis application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage   *StorageComponents
	Issuer    *core.TokenIssuer
	Validator *core.TokenValidator
	Retention *storage.RetentionManager
	APIServer *api.API

	serviceWg *sync.WaitGroup
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serviceWg: &sync.WaitGroup{},
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Aegis CSRF protection service starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// Pre-flight checks
	if cfg.Storage.Backend == config.BackendSQLite {
		if err := EnsureDataDirectories(cfg.GetDataDir(), sugar); err != nil {
			return nil, fmt.Errorf("pre-flight check failed: %w", err)
		}
	}

	storageComponents, err := InitTokenStorage(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storageComponents

	app.Issuer = core.NewTokenIssuer(storageComponents.TokenStore, &core.RandomTokenGenerator{}, cfg.CSRF.TokenExpiration, sugar)
	app.Validator = core.NewTokenValidator(storageComponents.TokenStore)
	app.Retention = storage.NewRetentionManager(storageComponents.TokenStore, cfg.CSRF.CleanupInterval, sugar)

	return app, nil
}

// Start starts the retention loop and the API server.
func (a *App) Start(ctx context.Context) error {
	a.Retention.Start()
	a.Sugar.Infof("Token retention started (interval: %s)", a.Config.CSRF.CleanupInterval)

	a.APIServer = api.NewAPI(a.Issuer, a.Validator, a.Retention, a.Config, a.Sugar)

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		addr := fmt.Sprintf(":%d", a.Config.API.Port)
		a.Sugar.Infof("API server started on %s", addr)

		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS(addr, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			err = a.APIServer.Start(addr)
		}

		if err != nil && err.Error() != "http: Server closed" {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Stop the API server first so no new writes arrive
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	if a.Retention != nil {
		a.Retention.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
