// Package httpapi assembles the service's HTTP surface: the carer-facing
// verification API, the admin review API, the authority webhook, and the
// operational endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouch/internal/platform/middleware"
	"vouch/internal/reconcile"
	verificationhandler "vouch/internal/verification/handler"
)

// RouterConfig carries everything the router needs to mount its routes.
type RouterConfig struct {
	Verification *verificationhandler.Handler
	Reconcile    *reconcile.Handler
	Validator    middleware.JWTValidator
	Logger       *slog.Logger
}

// NewRouter wires all endpoints with the shared middleware chain. The webhook
// route authenticates with its own shared secret, not a JWT, so it sits
// outside the authenticated group.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	cfg.Reconcile.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		cfg.Verification.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(cfg.Logger))
			cfg.Verification.RegisterAdmin(r)
		})
	})

	return r
}
