// Package api exposes the CSRF token lifecycle over HTTP: a token issuance
// endpoint, the validation middleware protecting unsafe methods, and an
// admin surface for on-demand sweeps.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authFailureEntry holds auth failure count and last failure time
type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// API holds the API server
type API struct {
	router         *mux.Router
	server         *http.Server
	issuer         *core.TokenIssuer
	validator      *core.TokenValidator
	retention      *storage.RetentionManager
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates a new API server
func NewAPI(issuer *core.TokenIssuer, validator *core.TokenValidator, retention *storage.RetentionManager, config *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		issuer:       issuer,
		validator:    validator,
		retention:    retention,
		config:       config,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		authFailures: make(map[string]*authFailureEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.errorRecoveryMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	// The CSRF stage and the issuance endpoint are composed only when
	// protection is enabled. When disabled they are absent from the pipeline
	// entirely, not a no-op pass-through.
	if a.config.CSRF.Enabled {
		a.router.Use(a.csrfProtectionMiddleware)
		a.router.HandleFunc("/api/csrf-token", a.getCSRFToken).Methods("GET")
	}

	admin := a.router.PathPrefix("/api/admin").Subrouter()
	if a.config.Auth.Enabled {
		admin.Use(a.basicAuthMiddleware)
	}
	admin.HandleFunc("/sweep", a.sweepTokens).Methods("POST")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Router returns the composed handler. Exposed for tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(port string) error {
	a.server = &http.Server{
		Addr:    port,
		Handler: a.router,
	}
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(port, certFile, keyFile string) error {
	a.server = &http.Server{
		Addr:    port,
		Handler: a.router,
	}
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
