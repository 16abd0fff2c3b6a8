package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/config"
	custommiddleware "storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Services groups the domain services shared by the HTTP server and the sweeper.
type Services struct {
	Stock    service.StockService
	Carts    service.CartService
	Checkout service.CheckoutService
}

// NewServices wires repositories and services over db.
func NewServices(cfg *config.Config, logger *zap.Logger, db *sql.DB, publisher service.OrderPublisher) *Services {
	store := repository.NewStore(db, logger, cfg.Checkout.MaxRetries)
	taxRate := decimal.NewFromFloat(cfg.Checkout.TaxRate)
	policy := service.WithReservationPolicy(cfg.Reservation.TTL, cfg.Reservation.ExtendWindow)

	return &Services{
		Stock:    service.NewStockService(store, logger, policy),
		Carts:    service.NewCartService(store, taxRate, logger, policy),
		Checkout: service.NewCheckoutService(store, publisher, taxRate, cfg.Checkout.Currency, logger, policy),
	}
}

// HealthChecker reports dependency status for /health.
type HealthChecker func(ctx context.Context) map[string]string

type Server struct {
	*http.Server
	logger *zap.Logger
}

func NewServer(cfg *config.Config, logger *zap.Logger, services *Services, redisClient *redis.Client, health HealthChecker) *Server {
	router := chi.NewRouter()

	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.TracingMiddleware(cfg.Telemetry.ServiceName))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.Server))

	router.Get("/health", healthHandler(health))

	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)
	adminMiddleware := custommiddleware.RequireAdmin(logger)
	cartLimiter := custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		Window:            cfg.RateLimit.Window,
		KeyPrefix:         "ratelimit:cart",
	}, logger)

	transport.NewCartHandler(services.Carts, logger).RegisterRoutes(router, authMiddleware, cartLimiter)
	transport.NewCheckoutHandler(services.Checkout, logger).RegisterRoutes(router, authMiddleware)
	transport.NewStockHandler(services.Stock, logger).RegisterRoutes(router, authMiddleware, adminMiddleware)

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func healthHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{"status": "ok"}
		code := http.StatusOK

		if health != nil {
			db := health(r.Context())
			status["database"] = db
			if db["status"] != "up" {
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		custommiddleware.RespondWithJSON(w, code, status)
	}
}
