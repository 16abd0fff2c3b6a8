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

// AddItemRequest represents the add-to-cart payload
type AddItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gte=1,lte=99"`
}

// UpdateItemRequest sets a line's quantity. Zero removes the line.
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=99"`
}

// ReserveRequest sets the quantity the caller's cart holds on a product.
type ReserveRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gte=1,lte=99"`
}

type ExtendResponse struct {
	Extended bool `json:"extended"`
}

// CartHandler handles HTTP requests for the caller's cart and its stock holds.
type CartHandler struct {
	carts  service.CartService
	logger *zap.Logger
}

func NewCartHandler(carts service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:  carts,
		logger: logger,
	}
}

// RegisterRoutes registers the cart routes. Mutations that take a quantity go
// through limiter.
func (h *CartHandler) RegisterRoutes(r chi.Router, authMiddleware, limiter func(http.Handler) http.Handler) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/extend", h.ExtendReservations)
		r.Delete("/items/{productID}", h.RemoveItem)
		r.Delete("/reservations/{productID}", h.ReleaseReservation)

		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/items", h.AddItem)
			r.Put("/items/{productID}", h.UpdateItem)
			r.Post("/reservations", h.Reserve)
		})
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Details(r.Context(), callerID(r))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "load cart")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Clear(r.Context(), callerID(r))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "clear cart")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Add item validation failed", zap.Error(err))
		respondWithDecodeError(w, err)
		return
	}

	view, err := h.carts.AddItem(r.Context(), callerID(r), req.ProductID, req.Quantity)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "add item")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	var req UpdateItemRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Update item validation failed", zap.Error(err))
		respondWithDecodeError(w, err)
		return
	}

	view, err := h.carts.UpdateItem(r.Context(), callerID(r), productID, *req.Quantity)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "update item")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(r.Context(), callerID(r), productID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "remove item")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ExtendReservations(w http.ResponseWriter, r *http.Request) {
	extended, err := h.carts.ExtendAll(r.Context(), callerID(r))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "extend reservations")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, ExtendResponse{Extended: extended})
}

// Reserve holds exactly the requested quantity for the caller's cart. The
// cart line is created or resized with it, so a hold never exists without
// its item.
func (h *CartHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondWithDecodeError(w, err)
		return
	}

	view, err := h.carts.SetItem(r.Context(), callerID(r), req.ProductID, req.Quantity)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "reserve stock")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

// ReleaseReservation drops the hold together with its cart line. Releasing
// something that is not held succeeds.
func (h *CartHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	_, err := h.carts.RemoveItem(r.Context(), callerID(r), productID)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		respondWithServiceError(w, h.logger, err, "release reservation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
