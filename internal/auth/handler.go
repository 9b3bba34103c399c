package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/console/internal/i18n"
	"github.com/odyssey-erp/console/internal/platform/httpx"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
	"github.com/odyssey-erp/console/internal/shared"
)

// Sign-in error codes carried in the login page query string.
const (
	ErrorCredentials = "CredentialsSignin"
	ErrorCSRF        = "MissingCSRF"
	ErrorUnavailable = "CallbackRouteError"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	store       session.Store
	csrfManager *shared.CSRFManager
	checker     rbac.Checker
	locales     *i18n.Locales
	validator   *validator.Validate
	loginLimit  int
}

// HandlerConfig groups Handler dependencies.
type HandlerConfig struct {
	Logger  *slog.Logger
	Service *Service
	Store   session.Store
	CSRF    *shared.CSRFManager
	Checker rbac.Checker
	Locales *i18n.Locales
	// LoginRateLimit is the number of sign-in attempts per IP and minute.
	LoginRateLimit int
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     cfg.Service,
		store:       cfg.Store,
		csrfManager: cfg.CSRF,
		checker:     cfg.Checker,
		locales:     cfg.Locales,
		validator:   validator.New(),
		loginLimit:  cfg.LoginRateLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Get("/session", h.session)
	r.Get("/permissions", h.permissions)
	r.Post("/logout", h.handleLogout)
	r.Group(func(r chi.Router) {
		if h.loginLimit > 0 {
			r.Use(httprate.Limit(h.loginLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(h.tooManyAttempts)))
		}
		r.Post("/login", h.handleLogin)
	})
}

type loginForm struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	CSRFToken string `json:"csrfToken"`
	Next      string `json:"next"`
	Locale    string `json:"locale"`
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": h.csrfManager.EnsureToken(w, r)})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	view := session.Project(session.FromContext(r.Context()))
	if view == nil {
		httpx.JSON(w, http.StatusOK, struct{}{})
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSON(r)
	form, err := h.decodeLogin(r, asJSON)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	locale := h.localeFor(form.Locale, form.Next)

	token := form.CSRFToken
	if v := r.Header.Get(shared.CSRFHeader); v != "" {
		token = v
	}
	if err := h.csrfManager.VerifyToken(r, token); err != nil {
		h.logger.Warn("login csrf", slog.Any("error", err))
		if asJSON {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
			return
		}
		h.redirectLogin(w, r, locale, ErrorCSRF, form.Next)
		return
	}

	if err := h.validator.Struct(form); err != nil {
		if asJSON {
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, fieldErrors(err)))
			return
		}
		h.redirectLogin(w, r, locale, ErrorCredentials, form.Next)
		return
	}

	payload, err := h.service.SignIn(r.Context(), form.Email, form.Password, MetaFromRequest(r))
	if err != nil {
		invalid := errors.Is(err, ErrInvalidCredentials)
		if !invalid {
			h.logger.Error("login backend", slog.Any("error", err))
		}
		switch {
		case asJSON && invalid:
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnauthorized, ErrorCredentials))
		case asJSON:
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrBadGateway, ErrorUnavailable))
		case invalid:
			h.redirectLogin(w, r, locale, ErrorCredentials, form.Next)
		default:
			h.redirectLogin(w, r, locale, ErrorUnavailable, form.Next)
		}
		return
	}

	if err := h.store.Put(w, r, payload); err != nil {
		h.logger.Error("login write session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if asJSON {
		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "user": payload.User})
		return
	}
	target := "/" + locale
	if SafeNext(form.Next) {
		target = form.Next
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSON(r) || wantsJSON(r)
	if err := h.csrfManager.VerifyToken(r, shared.RequestToken(r)); err != nil {
		h.logger.Warn("logout csrf", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
		return
	}

	h.service.SignOut(r.Context(), session.FromContext(r.Context()), MetaFromRequest(r))
	h.store.Clear(w, r)

	if asJSON {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	locale := h.localeFor(r.PostFormValue("locale"), "")
	http.Redirect(w, r, "/"+locale+"/login", http.StatusSeeOther)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	if !session.FromContext(r.Context()).Authenticated() {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, ErrNoSession))
		return
	}
	names := nonEmpty(r.URL.Query()["name"])
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "any"
	}

	var allowed bool
	switch {
	case mode != "any" && mode != "all":
		httpx.RespondError(w, fmt.Errorf("%w: mode must be any or all", httpx.ErrValidation))
		return
	case len(names) == 1:
		allowed = h.checker.Validate(r.Context(), names[0])
	case mode == "any":
		allowed = h.checker.ValidateAny(r.Context(), names...)
	default:
		allowed = h.checker.ValidateAll(r.Context(), names...)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed, "mode": mode, "names": names})
}

func (h *Handler) tooManyAttempts(w http.ResponseWriter, r *http.Request) {
	httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many sign-in attempts")
}

func (h *Handler) decodeLogin(r *http.Request, asJSON bool) (loginForm, error) {
	var form loginForm
	if asJSON {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			return form, err
		}
		return form, nil
	}
	if err := r.ParseForm(); err != nil {
		return form, err
	}
	form = loginForm{
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Password:  r.PostFormValue("password"),
		CSRFToken: r.PostFormValue(shared.CSRFFormField),
		Next:      r.PostFormValue("next"),
		Locale:    r.PostFormValue("locale"),
	}
	return form, nil
}

func (h *Handler) localeFor(explicit, next string) string {
	if h.locales.Supported(explicit) {
		return explicit
	}
	if SafeNext(next) {
		return h.locales.Resolve(next)
	}
	return h.locales.Default()
}

func (h *Handler) redirectLogin(w http.ResponseWriter, r *http.Request, locale, code, next string) {
	q := url.Values{"error": {code}}
	if SafeNext(next) {
		q.Set("next", next)
	}
	http.Redirect(w, r, "/"+locale+"/login?"+q.Encode(), http.StatusSeeOther)
}

// SafeNext reports whether next is a same-origin absolute path.
func SafeNext(next string) bool {
	return strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\")
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// MetaFromRequest extracts the client address and user agent of r.
func MetaFromRequest(r *http.Request) RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
