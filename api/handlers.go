package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs the full error internally and sends a generic JSON error
// to the client. Internal details never reach the response body.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message,
				"error", err.Error(),
				"status_code", statusCode,
			)
		} else {
			logger.Errorw(message,
				"status_code", statusCode,
			)
		}
	}

	writeJSON(w, statusCode, map[string]string{"error": message})
}

// healthCheck reports service liveness
func (a *API) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SweepResponse is returned by the admin sweep endpoint
type SweepResponse struct {
	Removed int64 `json:"removed"`
}

// sweepTokens runs an on-demand expired-token sweep
func (a *API) sweepTokens(w http.ResponseWriter, r *http.Request) {
	removed, err := a.retention.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err, a.logger)
		return
	}

	a.logger.Infow("On-demand token sweep completed", "removed", removed)
	writeJSON(w, http.StatusOK, SweepResponse{Removed: removed})
}
