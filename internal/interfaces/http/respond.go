package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fadingview/marketd/internal/market"
)

// ErrorResponse is the standard error body shared by every route.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the standardized error body for a status and code.
func writeError(w http.ResponseWriter, r *http.Request, clock clockwork.Clock, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: clock.Now().UTC(),
	})
}

// statusForKind maps the domain error taxonomy onto HTTP status codes.
func statusForKind(kind market.Kind) int {
	switch kind {
	case market.KindInvalidArgument:
		return http.StatusBadRequest
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindRateLimited:
		return http.StatusTooManyRequests
	case market.KindUnavailable:
		return http.StatusServiceUnavailable
	case market.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err through the taxonomy and emits the contract
// body.
func writeDomainError(w http.ResponseWriter, r *http.Request, clock clockwork.Clock, err error) {
	kind := market.KindOf(err)
	writeError(w, r, clock, statusForKind(kind), kind.String(), err.Error())
}
