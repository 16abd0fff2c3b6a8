package transport

import (
	"net/http"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckoutRequest carries the shipping choice made at checkout.
type CheckoutRequest struct {
	ShippingAddressID string          `json:"shipping_address_id" validate:"required,max=100"`
	ShippingCarrier   string          `json:"shipping_carrier" validate:"required,max=50"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Notes             string          `json:"notes" validate:"max=500"`
}

// CheckoutHandler handles checkout validation, commit and order lookup.
type CheckoutHandler struct {
	checkout service.CheckoutService
	logger   *zap.Logger
}

func NewCheckoutHandler(checkout service.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		logger:   logger,
	}
}

func (h *CheckoutHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/api/checkout/validate", h.Validate)
		r.Post("/api/checkout", h.Commit)
		r.Get("/api/orders/{orderID}", h.GetOrder)
	})
}

// Validate reports per item whether the cart can be checked out. An invalid
// cart is still a 200; only Commit turns it into a conflict.
func (h *CheckoutHandler) Validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.checkout.Validate(r.Context(), callerID(r))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "validate checkout")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, report)
}

func (h *CheckoutHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Checkout validation failed", zap.Error(err))
		respondWithDecodeError(w, err)
		return
	}
	if req.ShippingCost.IsNegative() {
		middleware.RespondWithValidationErrors(w, []middleware.ValidationError{
			{Field: "shipping_cost", Message: "Value must be greater than or equal to 0"},
		})
		return
	}

	order, err := h.checkout.Commit(r.Context(), callerID(r), domain.ShippingDetails{
		AddressID: req.ShippingAddressID,
		Carrier:   req.ShippingCarrier,
		Cost:      req.ShippingCost,
		Notes:     req.Notes,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err, "checkout")
		return
	}

	h.logger.Info("Checkout committed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.checkout.GetOrder(r.Context(), callerID(r), orderID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "load order")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}
