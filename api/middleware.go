package api

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"aegis/metrics"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// requestIDMiddleware attaches a request ID to every request for log
// correlation. An incoming X-Request-ID header is honored, otherwise a
// fresh UUID is generated.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		requestID = sanitizeRequestID(requestID)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// sanitizeRequestID strips characters that could be used for log injection
// and caps the length
func sanitizeRequestID(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}

// rateLimitMiddleware provides rate limiting per IP
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
		a.rateLimitersMu.Lock()
		entry, exists := a.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter:  rate.NewLimiter(rate.Limit(a.config.API.RateLimit.RequestsPerSecond), a.config.API.RateLimit.Burst),
				lastSeen: time.Now(),
			}
			a.rateLimiters[ip] = entry
		} else {
			entry.lastSeen = time.Now()
		}
		// Capture limiter reference while holding lock to prevent race condition
		limiter := entry.limiter
		a.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters periodically removes inactive rate limiters and auth failures to prevent memory leaks
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if time.Since(entry.lastSeen) > 1*time.Hour {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()

			a.authFailuresMu.Lock()
			for ip, entry := range a.authFailures {
				if time.Since(entry.lastFail) > 1*time.Hour {
					delete(a.authFailures, ip)
				}
			}
			a.authFailuresMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}

// corsMiddleware adds CORS headers
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+a.config.CSRF.ClientHeader+", "+a.config.CSRF.TokenHeader)
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// errorRecoveryMiddleware provides centralized panic recovery
func (a *API) errorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stackBuf := make([]byte, 4096)
				stackLen := runtime.Stack(stackBuf, false)

				// Stack trace is logged server-side only, never sent to client
				a.logger.Errorw("PANIC RECOVERED",
					"error", fmt.Sprintf("%v", err),
					"request_id", GetRequestIDOrDefault(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack_trace", string(stackBuf[:stackLen]),
				)

				metrics.APIPanicsRecovered.WithLabelValues(r.Method, r.URL.Path).Inc()
				writeError(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("panic: %v", err), a.logger)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// basicAuthMiddleware provides basic authentication with rate limiting for failed attempts
func (a *API) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)

		// Check if IP is blocked due to too many failures
		a.authFailuresMu.Lock()
		entry, exists := a.authFailures[ip]
		if exists && entry.count >= 5 && time.Since(entry.lastFail) < 10*time.Minute {
			a.authFailuresMu.Unlock()
			a.logger.Errorf("Too many failed auth attempts from IP: %s", ip)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		a.authFailuresMu.Unlock()

		username, password, ok := r.BasicAuth()
		if !ok || username != a.config.Auth.Username || bcrypt.CompareHashAndPassword([]byte(a.config.Auth.HashedPassword), []byte(password)) != nil {
			a.authFailuresMu.Lock()
			if !exists {
				a.authFailures[ip] = &authFailureEntry{count: 1, lastFail: time.Now()}
			} else {
				entry.count++
				entry.lastFail = time.Now()
			}
			a.authFailuresMu.Unlock()

			a.logger.Errorf("Failed authentication attempt from IP: %s", ip)
			w.Header().Set("WWW-Authenticate", `Basic realm="Aegis API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// On success, reset failure count
		a.authFailuresMu.Lock()
		delete(a.authFailures, ip)
		a.authFailuresMu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// getRealIP extracts the real client IP from the request, considering proxy trust settings
func getRealIP(r *http.Request, trustProxy bool, trustedNetworks []string) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy {
		return directIP
	}

	// Forwarded headers are trusted only when the direct peer is a known proxy
	if isTrustedProxy(directIP, trustedNetworks) {
		xff := r.Header.Get("X-Forwarded-For")
		if xff != "" {
			// X-Forwarded-For can contain multiple IPs, take the first one (original client)
			ips := strings.Split(xff, ",")
			if len(ips) > 0 {
				ip := strings.TrimSpace(ips[0])
				if ip != "" && net.ParseIP(ip) != nil {
					return ip
				}
			}
		}

		xri := r.Header.Get("X-Real-IP")
		if xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return directIP
}

// isTrustedProxy checks if an IP address is in the list of trusted proxy networks
func isTrustedProxy(ip string, trustedNetworks []string) bool {
	if len(trustedNetworks) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, network := range trustedNetworks {
		if strings.Contains(network, "/") {
			_, ipNet, err := net.ParseCIDR(network)
			if err == nil && ipNet.Contains(parsedIP) {
				return true
			}
		} else if network == ip {
			return true
		}
	}

	return false
}
