package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// ErrorResponse is the envelope every failed request answers with.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the status text in Code so clients can branch on it
// without parsing Message. Details holds stock conflict and validation data.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func newErrorResponse(status int, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Code:      http.StatusText(status),
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}
}

// writeJSON commits the status line before encoding, so an encode failure
// can only be logged by the caller's access log, not turned into a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, newErrorResponse(statusCode, message, nil))
}

func RespondWithErrorDetails(w http.ResponseWriter, statusCode int, message string, details map[string]any) {
	writeJSON(w, statusCode, newErrorResponse(statusCode, message, details))
}

// RespondWithValidationErrors answers 400 with the failing fields under
// details.validation_errors.
func RespondWithValidationErrors(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, newErrorResponse(http.StatusBadRequest, "validation failed",
		map[string]any{"validation_errors": errs}))
}

func RespondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	writeJSON(w, statusCode, payload)
}

// ErrorHandlingMiddleware turns a handler panic into a 500 envelope and logs
// it with the request id and stack. http.ErrAbortHandler is re-raised so the
// server still drops the connection.
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				RespondWithError(w, http.StatusInternalServerError, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
