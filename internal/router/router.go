// internal/router/router.go
package router

import (
	"net/http"
	"strconv"
	"time"

	"settlement-service/internal/handler"
	"settlement-service/internal/metrics"
	authmw "settlement-service/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handlers struct {
	Payment    *handler.PaymentHandler
	Entity     *handler.EntityHandler
	Wallet     *handler.WalletHandler
	Withdrawal *handler.WithdrawalHandler
	Health     *handler.HealthHandler
}

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func SetupRoutes(h Handlers, auth *authmw.Authenticator, opts Options, logger *zap.Logger) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.HeaderIdempotencyKey, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/v1/settlement/health", h.Health.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Require)

		// websocket stays outside the request timeout
		r.Get("/wallets/{account_id}/ws", h.Wallet.Subscribe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			// ============================================
			// PAYMENTS
			// ============================================
			r.Post("/payments/verify", h.Payment.VerifyPayment)

			// ============================================
			// PAYABLE ENTITIES
			// ============================================
			r.Route("/entities", func(r chi.Router) {
				r.With(authmw.RequireRole(authmw.RoleService, authmw.RoleAdmin)).Post("/", h.Entity.Create)

				r.Route("/{kind}/{id}", func(r chi.Router) {
					r.Get("/", h.Entity.Get)
					r.Get("/history", h.Entity.History)

					r.Group(func(r chi.Router) {
						r.Use(authmw.RequireRole(authmw.RoleService, authmw.RoleAdmin))
						r.Post("/events", h.Entity.Act)
						r.Post("/renewal", h.Entity.Renewal)
					})
				})
			})

			// ============================================
			// WALLETS
			// ============================================
			r.Get("/wallets/{account_id}", h.Wallet.Stats)
			r.Get("/wallets/{account_id}/transactions", h.Wallet.Transactions)

			// ============================================
			// WITHDRAWALS
			// ============================================
			r.Route("/withdrawals", func(r chi.Router) {
				r.With(authmw.RequireRole(authmw.RoleUser)).Post("/", h.Withdrawal.Request)
				r.Get("/", h.Withdrawal.List)
				r.Get("/{id}", h.Withdrawal.Get)
			})

			// ============================================
			// ADMIN
			// ============================================
			r.Route("/admin", func(r chi.Router) {
				r.Use(authmw.RequireRole(authmw.RoleAdmin))
				r.Post("/withdrawals/{id}/process", h.Withdrawal.Process)
			})
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests and records request metrics by route pattern.
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
