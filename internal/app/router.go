package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/console/internal/auth"
	"github.com/odyssey-erp/console/internal/i18n"
	"github.com/odyssey-erp/console/internal/observability"
	"github.com/odyssey-erp/console/internal/platform/httpx"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
	"github.com/odyssey-erp/console/internal/view"
	"github.com/odyssey-erp/console/web"
)

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Locales      *i18n.Locales
	Classifier   *rbac.Classifier
	Materializer *session.Materializer
	Gate         *rbac.Gate
	AuthHandler  *auth.Handler
	Proxy        http.Handler
	Pages        *view.Pages
	Metrics      *observability.Metrics
	ReadyChecks  map[string]ReadyCheck
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", readyHandler(params.ReadyChecks))

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/assets/", http.FileServer(http.FS(staticFS)))
		r.Handle("/assets/*", staticCacheHandler(fileServer))
	}

	var origins []string
	apiLimit, secureCookies := 0, false
	if params.Config != nil {
		origins = params.Config.CORSAllowedOrigins
		apiLimit = params.Config.APIRateLimit
		secureCookies = params.Config.IsProduction()
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(CORS(origins))
		r.Use(params.Materializer.Middleware)
		r.Route("/auth", params.AuthHandler.MountRoutes)
		r.With(APIRateLimit(apiLimit)).Handle("/backend/*", params.Proxy)
	})

	r.Group(func(r chi.Router) {
		r.Use(i18n.Router{Locales: params.Locales, Skip: params.Classifier.IsAsset, Secure: secureCookies}.Middleware)
		r.Use(params.Materializer.Middleware)
		r.Use(params.Gate.Middleware)
		params.Pages.MountRoutes(r)
	})
	r.NotFound(params.Pages.NotFound)

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

func readyHandler(checks map[string]ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "unavailable"
		}
		httpx.JSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
