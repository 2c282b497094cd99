package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func testConfig(csrfEnabled bool) *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8081
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	cfg.CSRF.Enabled = csrfEnabled
	cfg.CSRF.TokenExpiration = 1 * time.Hour
	cfg.CSRF.ClientHeader = "X-Csrf-Client"
	cfg.CSRF.TokenHeader = "X-Csrf-Token"
	cfg.CSRF.CleanupInterval = 1 * time.Hour
	cfg.Storage.Backend = config.BackendSQLite
	return cfg
}

func setupTestAPI(t *testing.T, cfg *config.Config) *API {
	t.Helper()

	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	store := storage.NewSQLiteTokenStorage(sqlite, logger)
	issuer := core.NewTokenIssuer(store, &core.RandomTokenGenerator{}, cfg.CSRF.TokenExpiration, logger)
	validator := core.NewTokenValidator(store)
	retention := storage.NewRetentionManager(store, cfg.CSRF.CleanupInterval, logger)

	api := NewAPI(issuer, validator, retention, cfg, logger)
	t.Cleanup(func() { close(api.stopCh) })

	return api
}

func issueTestToken(t *testing.T, api *API, client string) *CSRFTokenResponse {
	t.Helper()

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/csrf-token?client="+client, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CSRFTokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return &resp
}

func TestSafeMethodsBypassCSRF(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	protected := api.csrfProtectionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, method := range []string{"GET", "HEAD", "OPTIONS", "TRACE"} {
		req := httptest.NewRequest(method, "/anything", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "method %s must not require CSRF credentials", method)
	}

	for _, method := range []string{"POST", "PUT", "PATCH", "DELETE"} {
		req := httptest.NewRequest(method, "/anything", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "method %s must require CSRF credentials", method)
	}
}

func TestUnsafeMethodWithoutCredentialsRejected(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp CSRFErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CSRF_INVALID", resp.Code)
}

func TestIssuanceEndpoint(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	resp := issueTestToken(t, api, "client123")
	assert.Equal(t, "client123", resp.Client)
	assert.Len(t, resp.Token, 64)
	assert.WithinDuration(t, time.Now().UTC().Add(1*time.Hour), resp.Expiration, 10*time.Second)
}

func TestIssuanceEndpointRequiresClient(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	req := httptest.NewRequest("GET", "/api/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidTokenAccepted(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))
	issued := issueTestToken(t, api, "client123")

	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.Header.Set("X-Csrf-Client", "client123")
	req.Header.Set("X-Csrf-Token", issued.Token)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrongTokenRejected(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))
	issueTestToken(t, api, "client123")

	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.Header.Set("X-Csrf-Client", "client123")
	req.Header.Set("X-Csrf-Token", "0000000000000000000000000000000000000000000000000000000000000000")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRotatedAwayTokenRejected(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	first := issueTestToken(t, api, "client123")
	second := issueTestToken(t, api, "client123")
	require.NotEqual(t, first.Token, second.Token)

	// Stale token from before rotation
	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.Header.Set("X-Csrf-Client", "client123")
	req.Header.Set("X-Csrf-Token", first.Token)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Current token
	req = httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.Header.Set("X-Csrf-Client", "client123")
	req.Header.Set("X-Csrf-Token", second.Token)
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenBoundToClient(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))
	issued := issueTestToken(t, api, "client-a")

	// Valid token presented under a different client identity
	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.Header.Set("X-Csrf-Client", "client-b")
	req.Header.Set("X-Csrf-Token", issued.Token)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRejectionBodyNeverDistinguishesFailure(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))
	issueTestToken(t, api, "client123")

	bodyFor := func(setup func(*http.Request)) string {
		req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
		setup(req)
		rec := httptest.NewRecorder()
		api.Router().ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		return rec.Body.String()
	}

	missingBoth := bodyFor(func(r *http.Request) {})
	missingToken := bodyFor(func(r *http.Request) { r.Header.Set("X-Csrf-Client", "client123") })
	wrongToken := bodyFor(func(r *http.Request) {
		r.Header.Set("X-Csrf-Client", "client123")
		r.Header.Set("X-Csrf-Token", "bogus-token-value-bogus-token-value")
	})
	unknownClient := bodyFor(func(r *http.Request) {
		r.Header.Set("X-Csrf-Client", "stranger")
		r.Header.Set("X-Csrf-Token", "bogus-token-value-bogus-token-value")
	})

	assert.Equal(t, missingBoth, missingToken)
	assert.Equal(t, missingBoth, wrongToken)
	assert.Equal(t, missingBoth, unknownClient)
}

func TestDisabledCSRFOmitsProtectionAndIssuance(t *testing.T) {
	api := setupTestAPI(t, testConfig(false))

	// Unsafe requests pass with no credentials
	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The issuance endpoint is not registered at all
	req = httptest.NewRequest("GET", "/api/csrf-token?client=client123", nil)
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSweepRemovesExpiredTokens(t *testing.T) {
	cfg := testConfig(false)
	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	store := storage.NewSQLiteTokenStorage(sqlite, logger)
	issuer := core.NewTokenIssuer(store, &core.RandomTokenGenerator{}, cfg.CSRF.TokenExpiration, logger)
	validator := core.NewTokenValidator(store)
	retention := storage.NewRetentionManager(store, cfg.CSRF.CleanupInterval, logger)

	api := NewAPI(issuer, validator, retention, cfg, logger)
	t.Cleanup(func() { close(api.stopCh) })

	// One live, one already expired
	_, err = store.UpsertToken(t.Context(), "live", "token123", time.Now().UTC().Add(1*time.Hour))
	require.NoError(t, err)
	_, err = store.UpsertToken(t.Context(), "stale", "token456", time.Now().UTC().Add(-1*time.Minute))
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SweepResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Removed)
}

func TestAdminSweepRequiresAuthWhenEnabled(t *testing.T) {
	cfg := testConfig(false)
	cfg.Auth.Enabled = true
	cfg.Auth.Username = "admin"
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Auth.HashedPassword = string(hashed)

	api := setupTestAPI(t, cfg)

	req := httptest.NewRequest("POST", "/api/admin/sweep", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("POST", "/api/admin/sweep", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRequestIDPropagated(t *testing.T) {
	api := setupTestAPI(t, testConfig(true))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))

	// A missing inbound ID gets generated
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
