package transport

import (
	"errors"
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondWithServiceError maps a service failure onto the JSON error envelope.
func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var insufficient *service.InsufficientStockError
	var rejected *service.CheckoutRejectedError

	switch {
	case errors.As(err, &insufficient):
		middleware.RespondWithErrorDetails(w, http.StatusConflict, "insufficient stock", map[string]interface{}{
			"product_id": insufficient.ProductID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.As(err, &rejected):
		middleware.RespondWithErrorDetails(w, http.StatusConflict, "checkout rejected", map[string]interface{}{
			"report": rejected.Report,
		})
	case errors.Is(err, service.ErrNotAuthorized):
		middleware.RespondWithError(w, http.StatusUnauthorized, "not authorized")
	case errors.Is(err, service.ErrNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrEmptyCart):
		middleware.RespondWithError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, service.ErrInvalidQuantity):
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid quantity")
	case errors.Is(err, service.ErrConcurrencyConflict):
		logger.Warn("Concurrency conflict", zap.String("action", action), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		middleware.RespondWithError(w, http.StatusServiceUnavailable, "concurrent update, please retry")
	default:
		logger.Error("Request failed", zap.String("action", action), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// respondWithDecodeError reports a body that failed to decode or validate.
func respondWithDecodeError(w http.ResponseWriter, err error) {
	if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
		middleware.RespondWithValidationErrors(w, validationErrors)
		return
	}
	middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
}

// uuidParam parses a uuid path parameter, writing a 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// callerID returns the authenticated user id, or uuid.Nil which the services
// reject as not authorized.
func callerID(r *http.Request) uuid.UUID {
	id, _ := middleware.GetUserID(r.Context())
	return id
}
