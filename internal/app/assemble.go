package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/console/internal/auth"
	"github.com/odyssey-erp/console/internal/backend"
	"github.com/odyssey-erp/console/internal/observability"
	"github.com/odyssey-erp/console/internal/platform/db"
	"github.com/odyssey-erp/console/internal/proxy"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
	"github.com/odyssey-erp/console/internal/shared"
	"github.com/odyssey-erp/console/internal/view"
)

// Deps carries the optional connections opened by the caller.
type Deps struct {
	Redis *redis.Client
	DB    *pgxpool.Pool
	// Clock overrides time.Now for the session lifecycle.
	Clock func() time.Time
}

// Console is the assembled application.
type Console struct {
	Handler http.Handler
	Auth    *auth.Service
	Metrics *observability.Metrics
}

// Assemble builds every component from cfg and returns the root handler.
func Assemble(ctx context.Context, cfg *Config, logger *slog.Logger, deps Deps) (*Console, error) {
	if logger == nil {
		logger = slog.Default()
	}
	prod := cfg.IsProduction()
	locales := cfg.LocaleSet()
	classifier := rbac.NewClassifier(rbac.ClassifierConfig{
		Locales:     locales,
		PublicPaths: cfg.PublicPaths,
		Overrides:   cfg.RBACOverrides,
	})

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	profiles := backend.MemoProfiles(client)

	managerCfg := session.ManagerConfig{
		RefreshThreshold: cfg.TokenRefreshThreshold,
		SyncInterval:     cfg.RolesSyncInterval,
		SyncCooldown:     cfg.RolesSyncCooldown,
		Logger:           logger,
		Clock:            deps.Clock,
	}
	if deps.Redis != nil {
		managerCfg.Coordinator = session.NewRedisCoordinator(deps.Redis, session.RedisOptions{}, logger)
	}
	if metrics != nil {
		managerCfg.Observer = metrics
	}
	manager := session.NewManager(client, profiles, managerCfg)

	codec, err := session.NewCodec(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("session codec: %w", err)
	}
	store := session.NewCookieStore(codec, session.CookieOptions{
		Name:   cfg.SessionCookieName,
		Domain: cfg.CookieDomain,
		Secure: prod,
	})
	csrf := shared.NewCSRFManager(cfg.CSRFSecret, prod)

	recorders := auth.Recorders{auth.LogRecorder{Logger: logger}}
	if deps.DB != nil {
		err := db.WithTx(ctx, deps.DB, func(tx pgx.Tx) error {
			return auth.EnsureSchema(ctx, tx)
		})
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, auth.NewPGRecorder(deps.DB))
	}
	authService := auth.NewService(client, manager, recorders, logger)

	materializer := &session.Materializer{
		Store:     store,
		Manager:   manager,
		UpdateAge: cfg.SessionUpdateAge,
		Logger:    logger,
		OnDrop: func(r *http.Request, p session.Payload) {
			metrics.ObserveSessionDropped()
			authService.SessionExpired(r.Context(), p, auth.MetaFromRequest(r))
		},
	}
	gate := &rbac.Gate{
		Classifier: classifier,
		Locales:    locales,
		Principal:  session.PrincipalFromRequest,
		Observe: func(d rbac.Decision) {
			metrics.ObserveGateDecision(d.Kind.String(), d.Reason)
		},
		Logger: logger,
	}

	authHandler := auth.NewHandler(auth.HandlerConfig{
		Logger:         logger,
		Service:        authService,
		Store:          store,
		CSRF:           csrf,
		Checker:        rbac.Checker{Source: auth.ProfileRoles{Profiles: profiles}, Logger: logger},
		Locales:        locales,
		LoginRateLimit: cfg.LoginRateLimit,
	})

	forwarder := proxy.New(cfg.BackendURL, "/api/backend", cfg.BackendTimeout, logger)
	forwarder.OnUpstreamError = metrics.ObserveUpstreamError

	engine, err := view.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	pages := &view.Pages{
		Engine:     engine,
		CSRF:       csrf,
		Locales:    locales,
		Classifier: classifier,
		Logger:     logger,
	}

	checks := map[string]ReadyCheck{"backend": client.Health}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}
	if deps.DB != nil {
		checks["postgres"] = deps.DB.Ping
	}

	handler := NewRouter(RouterParams{
		Logger:       logger,
		Config:       cfg,
		Locales:      locales,
		Classifier:   classifier,
		Materializer: materializer,
		Gate:         gate,
		AuthHandler:  authHandler,
		Proxy:        forwarder,
		Pages:        pages,
		Metrics:      metrics,
		ReadyChecks:  checks,
	})
	return &Console{Handler: handler, Auth: authService, Metrics: metrics}, nil
}
