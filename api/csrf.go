package api

import (
	"encoding/json"
	"net/http"
	"time"

	"aegis/metrics"
)

// csrfRejectionMessage is the single message returned for every CSRF rejection.
// It never distinguishes which factor failed (missing client, missing token,
// unknown client, expired token, or mismatch).
const csrfRejectionMessage = "CSRF token missing or invalid"

// csrfProtectionMiddleware validates CSRF credentials on state-changing operations
func (a *API) csrfProtectionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Safe methods pass through unchecked
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
		requestID := GetRequestIDOrDefault(r.Context())

		client := r.Header.Get(a.config.CSRF.ClientHeader)
		token := r.Header.Get(a.config.CSRF.TokenHeader)
		if client == "" || token == "" {
			metrics.RequestsRejected.WithLabelValues("missing_credentials").Inc()
			a.logger.Warnf("CSRF AUDIT: Credentials missing - IP: %s, Method: %s, Path: %s, RequestID: %s",
				clientIP, r.Method, r.URL.Path, requestID)
			a.writeCSRFError(w, http.StatusForbidden, csrfRejectionMessage)
			return
		}

		valid, err := a.validator.IsValid(r.Context(), client, token)
		if err != nil {
			// Storage failure is a server-side fault, never a 403
			a.logger.Errorw("CSRF AUDIT: Validation error",
				"client_ip", clientIP,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID,
				"error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
			return
		}

		if !valid {
			metrics.RequestsRejected.WithLabelValues("invalid_token").Inc()
			a.logger.Warnf("CSRF AUDIT: Token rejected - IP: %s, Method: %s, Path: %s, RequestID: %s",
				clientIP, r.Method, r.URL.Path, requestID)
			a.writeCSRFError(w, http.StatusForbidden, csrfRejectionMessage)
			return
		}

		a.logger.Debugf("CSRF AUDIT: Validation successful - IP: %s, Method: %s, Path: %s, RequestID: %s",
			clientIP, r.Method, r.URL.Path, requestID)

		next.ServeHTTP(w, r)
	})
}

// CSRFTokenResponse is returned by the token issuance endpoint
type CSRFTokenResponse struct {
	Client     string    `json:"client"`
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// getCSRFToken issues (or rotates) the CSRF token for a client.
// GET so the middleware never blocks first-time callers.
func (a *API) getCSRFToken(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	if client == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'client' is required", nil, a.logger)
		return
	}

	token, err := a.issuer.IssueOrRotate(r.Context(), client)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue CSRF token", err, a.logger)
		return
	}

	writeJSON(w, http.StatusOK, CSRFTokenResponse{
		Client:     token.Client,
		Token:      token.Token,
		Expiration: token.Expiration,
	})
}

// CSRFErrorResponse represents a CSRF validation error response
type CSRFErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeCSRFError writes a JSON CSRF error response with code and error fields
func (a *API) writeCSRFError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(CSRFErrorResponse{
		Code:  "CSRF_INVALID",
		Error: message,
	}); err != nil {
		a.logger.Errorw("Failed to encode CSRF error response",
			"error", err,
			"message", message)
	}
}
