package transport

import (
	"context"
	"net/http"
	"time"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testSecret = "transport-secret"

type fakeCarts struct {
	service.CartService

	view      *domain.CartView
	err       error
	extended  bool
	lastUser  uuid.UUID
	lastProd  uuid.UUID
	lastQty   int
	lastCalls []string
}

func (f *fakeCarts) record(call string, userID uuid.UUID) {
	f.lastCalls = append(f.lastCalls, call)
	f.lastUser = userID
}

func (f *fakeCarts) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	f.record("GetOrCreate", userID)
	if userID == uuid.Nil {
		return nil, service.ErrNotAuthorized
	}
	return &domain.Cart{ID: uuid.NewSHA1(uuid.Nil, userID[:]), UserID: userID}, nil
}

func (f *fakeCarts) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error) {
	f.record("AddItem", userID)
	f.lastProd, f.lastQty = productID, quantity
	return f.view, f.err
}

func (f *fakeCarts) SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error) {
	f.record("SetItem", userID)
	f.lastProd, f.lastQty = productID, quantity
	return f.view, f.err
}

func (f *fakeCarts) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error) {
	f.record("UpdateItem", userID)
	f.lastProd, f.lastQty = productID, quantity
	return f.view, f.err
}

func (f *fakeCarts) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*domain.CartView, error) {
	f.record("RemoveItem", userID)
	f.lastProd = productID
	return f.view, f.err
}

func (f *fakeCarts) Clear(ctx context.Context, userID uuid.UUID) (*domain.CartView, error) {
	f.record("Clear", userID)
	return f.view, f.err
}

func (f *fakeCarts) Details(ctx context.Context, userID uuid.UUID) (*domain.CartView, error) {
	f.record("Details", userID)
	return f.view, f.err
}

func (f *fakeCarts) ExtendAll(ctx context.Context, userID uuid.UUID) (bool, error) {
	f.record("ExtendAll", userID)
	return f.extended, f.err
}

type fakeStock struct {
	service.StockService

	public   *domain.PublicProductView
	admin    *domain.AdminStockView
	deleted  int64
	err      error
	lastProd uuid.UUID
}

func (f *fakeStock) PublicView(ctx context.Context, productID uuid.UUID) (*domain.PublicProductView, error) {
	f.lastProd = productID
	return f.public, f.err
}

func (f *fakeStock) AdminView(ctx context.Context, productID uuid.UUID) (*domain.AdminStockView, error) {
	f.lastProd = productID
	return f.admin, f.err
}

func (f *fakeStock) CleanupExpired(ctx context.Context) (int64, error) {
	return f.deleted, f.err
}

type fakeCheckout struct {
	report       *domain.CheckoutReport
	order        *domain.Order
	err          error
	lastShipping domain.ShippingDetails
	lastUser     uuid.UUID
}

func (f *fakeCheckout) Validate(ctx context.Context, userID uuid.UUID) (*domain.CheckoutReport, error) {
	f.lastUser = userID
	return f.report, f.err
}

func (f *fakeCheckout) Commit(ctx context.Context, userID uuid.UUID, shipping domain.ShippingDetails) (*domain.Order, error) {
	f.lastUser, f.lastShipping = userID, shipping
	return f.order, f.err
}

func (f *fakeCheckout) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	f.lastUser = userID
	return f.order, f.err
}

func passThrough(next http.Handler) http.Handler { return next }

// newRouter mounts every handler behind real JWT auth and no rate limiting.
func newRouter(carts *fakeCarts, stock *fakeStock, checkout *fakeCheckout) http.Handler {
	logger := zap.NewNop()
	auth := middleware.AuthMiddleware(testSecret, logger)

	r := chi.NewRouter()
	NewCartHandler(carts, logger).RegisterRoutes(r, auth, passThrough)
	NewCheckoutHandler(checkout, logger).RegisterRoutes(r, auth)
	NewStockHandler(stock, logger).RegisterRoutes(r, auth, middleware.RequireAdmin(logger))
	return r
}

func bearer(userID uuid.UUID, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, _ := token.SignedString([]byte(testSecret))
	return "Bearer " + s
}
