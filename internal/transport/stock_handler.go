package transport

import (
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CleanupResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// StockHandler serves product availability and the operator stock endpoints.
type StockHandler struct {
	stock  service.StockService
	logger *zap.Logger
}

func NewStockHandler(stock service.StockService, logger *zap.Logger) *StockHandler {
	return &StockHandler{
		stock:  stock,
		logger: logger,
	}
}

func (h *StockHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Get("/api/products/{productID}/availability", h.GetAvailability)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(adminMiddleware)
		r.Get("/products/{productID}/stock", h.GetStock)
		r.Post("/reservations/cleanup", h.CleanupReservations)
	})
}

// GetAvailability returns the public stock view. Total stock stays hidden.
func (h *StockHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	view, err := h.stock.PublicView(r.Context(), productID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "load availability")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	view, err := h.stock.AdminView(r.Context(), productID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "load stock")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *StockHandler) CleanupReservations(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.stock.CleanupExpired(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "clean up reservations")
		return
	}

	h.logger.Info("Manual reservation cleanup", zap.Int64("deleted_count", deleted))
	middleware.RespondWithJSON(w, http.StatusOK, CleanupResponse{DeletedCount: deleted})
}
