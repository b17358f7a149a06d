package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cricketstatspack/portal/internal/admin"
	"github.com/cricketstatspack/portal/internal/api"
	"github.com/cricketstatspack/portal/internal/audit"
	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/billing"
	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/database"
	"github.com/cricketstatspack/portal/internal/logging"
	"github.com/cricketstatspack/portal/internal/portal"
	"github.com/cricketstatspack/portal/internal/storage"
	"github.com/cricketstatspack/portal/internal/store"
)

type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *sqlx.DB
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		e.log.Warn("closing database", zap.Error(err))
	}
	_ = e.log.Sync()
}

// bootstrap loads configuration, opens the database and migrates it.
func (a *app) bootstrap(ctx context.Context) (*env, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: logger, db: db}, nil
}

type servers struct {
	portal *portal.Portal
	api    *api.Api
}

func wire(ctx context.Context, e *env) (*servers, error) {
	cfg, logger := e.cfg, e.log
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwtSecret must be set to serve the API")
	}
	if cfg.Auth.AdminEmail == "" {
		logger.Warn("no admin email configured, back-office requests will be refused")
	}

	st := store.New(e.db, logger)
	recorder := audit.NewRecorder(st, logger)
	verifier := auth.NewVerifier(cfg.Auth.BcryptCost)
	policy := auth.PolicyFromConfig(cfg.Auth)
	plans := billing.PlansFromConfig(cfg.Stripe)

	provider := billing.NewStripeProvider(cfg.Stripe, logger)
	reconciler := billing.NewReconciler(provider, st, recorder, plans, cfg.Stripe.Timeout, logger)
	throttle := auth.NewThrottle(st, verifier, recorder, policy, logger)

	var uploader admin.Uploader
	if cfg.Export.Enabled() {
		s3, err := storage.NewS3Client(ctx, cfg.Export)
		if err != nil {
			return nil, fmt.Errorf("export storage: %w", err)
		}
		uploader = s3
	}

	p, err := portal.New(cfg, st, portal.Services{
		Throttle:   throttle,
		Registrar:  auth.NewRegistrar(st, verifier, recorder, policy, logger),
		Recovery:   auth.NewRecoveryFlow(st, verifier, recorder, policy, cfg.Auth.DecoySecret, logger),
		Passwords:  auth.NewPasswordChanger(st, verifier, recorder, policy),
		Reconciler: reconciler,
		Billing:    billing.NewService(provider, st, recorder, cfg.Stripe, logger),
		Admin:      admin.NewService(st, auth.NewGate(cfg, recorder, logger), recorder, uploader, logger),
		Audit:      recorder,
	}, logger)
	if err != nil {
		return nil, err
	}

	a, err := api.NewApi(cfg, api.Deps{
		Store:      st,
		Throttle:   throttle,
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL),
		Reconciler: reconciler,
		Webhooks:   billing.NewWebhooks(provider, st, reconciler, recorder, plans, logger),
	}, logger)
	if err != nil {
		return nil, err
	}
	return &servers{portal: p, api: a}, nil
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := a.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := wire(ctx, e)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return servePortal(ctx, e, s.portal) })
	g.Go(func() error { return s.api.Serve(ctx) })
	return g.Wait()
}

func servePortal(ctx context.Context, e *env, p *portal.Portal) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
		Handler:           p.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("starting portal server", zap.String("addr", srv.Addr))
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

	e.log.Info("shutting down portal server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
