// Package api exposes the bridge and governance services over REST/JSON.
// Two servers, one package: the bridge server fronts telemetry ingestion
// and token-filtered dashboards, the governance server fronts provenance,
// verification, and the submission registry.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/windi/backend/internal/signal"
)

// readBody reads at most limit bytes of the request body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeCoded maps a coded error to its HTTP status and emits the stable
// code verbatim so clients can match on it.
func writeCoded(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"code":  signal.CodeOf(err),
	})
}

func statusFor(err error) int {
	code := signal.CodeOf(err)
	switch {
	case strings.HasPrefix(code, "SCHEMA:"):
		return http.StatusBadRequest
	case code == signal.CodeAuthTokenExpired,
		code == signal.CodeAuthMalformedToken:
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "AUTH:"):
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "REPLAY:"):
		return http.StatusConflict
	case code == signal.CodeHoldUnauthorized,
		code == signal.CodeHoldReleaseUnauthorized:
		return http.StatusForbidden
	case code == signal.CodeHoldNoActiveHolds:
		return http.StatusNotFound
	case code == signal.CodeHoldAlreadyReleased:
		return http.StatusConflict
	case strings.HasPrefix(code, "HOLD:"):
		return http.StatusBadRequest
	case code == signal.CodeConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware mirrors the permissive dev CORS the dashboards expect.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Virtue-Token, X-Admin-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
