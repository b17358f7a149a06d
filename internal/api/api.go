// Package api serves the JSON surface: bearer-token login for scripted
// clients and the Stripe webhook endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/middleware"
	"github.com/cricketstatspack/portal/internal/models"
)

// Store is the account lookup the API needs.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Deps are the services behind the API handlers.
type Deps struct {
	Store      Store
	Throttle   *auth.Throttle
	Tokens     *auth.TokenManager
	Reconciler *billing.Reconciler
	Webhooks   *billing.Webhooks
}

type Api struct {
	Config  *config.Config
	Router  *chi.Mux
	deps    Deps
	limiter *middleware.RateLimiter
	log     *zap.Logger
}

func NewApi(cfg *config.Config, deps Deps, logger *zap.Logger) (*Api, error) {
	if cfg.Server.APIPort == 0 {
		return nil, errors.New("Must have at least a port to start API")
	}
	if deps.Tokens == nil {
		return nil, errors.New("api requires a token manager")
	}
	api := &Api{
		Config:  cfg,
		Router:  chi.NewRouter(),
		deps:    deps,
		limiter: middleware.NewRateLimiter(cfg.Server.LoginRate, cfg.Server.LoginBurst),
		log:     logger.Named("api"),
	}
	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientContext)
	r.Use(middleware.AccessLog(api.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chimw.Heartbeat("/heartbeat"))

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook/stripe", api.StripeWebhookHandler)

		r.Route("/v1", func(r chi.Router) {
			r.With(api.limiter.Limit("api_login")).Post("/login", api.LoginHandler)

			r.Group(func(r chi.Router) {
				r.Use(api.TokenAuthMiddleware)
				r.Get("/account", api.AccountHandler)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Serve listens on the configured API port until ctx is cancelled, then
// drains in-flight requests.
func (api *Api) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", api.Config.Server.APIPort),
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.log.Info("starting API server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	api.log.Info("API server stopped")
	return nil
}
