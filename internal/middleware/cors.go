package middleware

import (
	"net/http"
	"net/url"

	"storefront/internal/config"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CORSMiddleware allows the configured storefront origins. Outside production
// any localhost origin is accepted so local frontends on arbitrary ports work.
func CORSMiddleware(cfg config.ServerConfig) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "traceparent", "tracestate"},
		// Clients back off on 429/503 using these.
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	if cfg.IsDevelopment() {
		allowed := make(map[string]struct{}, len(cfg.CORSOrigins))
		for _, o := range cfg.CORSOrigins {
			allowed[o] = struct{}{}
		}
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool {
			if _, ok := allowed[origin]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1")
		}
	}

	return cors.Handler(opts)
}

// DefaultMiddlewareStack is applied to every route before tracing and logging.
func DefaultMiddlewareStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.StripSlashes,
		middleware.Compress(5, "application/json"),
	}
}
