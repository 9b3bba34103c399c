package view

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/console/internal/auth"
	"github.com/odyssey-erp/console/internal/i18n"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
	"github.com/odyssey-erp/console/internal/shared"
)

// Pages serves the HTML shell behind the authorization gate.
type Pages struct {
	Engine     *Engine
	CSRF       *shared.CSRFManager
	Locales    *i18n.Locales
	Classifier *rbac.Classifier
	Logger     *slog.Logger
}

// Capability is one row of the frame's capability table.
type Capability struct {
	Action  string
	Allowed bool
}

// FrameData is the payload of the generic page frame.
type FrameData struct {
	Resource     string
	Action       string
	Permission   string
	Admin        bool
	Capabilities []Capability
	Permissions  []rbac.Permission
}

// LoginData is the payload of the login page.
type LoginData struct {
	Next  string
	Error string
}

// MountRoutes registers the page routes. Every path is expected to carry a
// supported locale in its first segment.
func (p *Pages) MountRoutes(r chi.Router) {
	r.Get("/{locale}", p.home)
	r.Get("/{locale}/login", p.login)
	r.Get("/{locale}/403", p.forbidden)
	r.Get("/{locale}/404", p.notFound)
	r.Get("/{locale}/*", p.frame)
}

// NotFound renders the localized 404 page.
func (p *Pages) NotFound(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusNotFound, "pages/404.html", "notFound", nil)
}

func (p *Pages) home(w http.ResponseWriter, r *http.Request) {
	if !p.localeOK(w, r) {
		return
	}
	p.render(w, r, http.StatusOK, "pages/home.html", "home", nil)
}

func (p *Pages) login(w http.ResponseWriter, r *http.Request) {
	locale := p.Locales.Resolve(r.URL.Path)
	next := r.URL.Query().Get("next")
	if !auth.SafeNext(next) {
		next = ""
	}
	if session.FromContext(r.Context()).Authenticated() {
		target := "/" + locale
		if next != "" {
			target = next
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	p.render(w, r, http.StatusOK, "pages/login.html", "signIn", LoginData{
		Next:  next,
		Error: r.URL.Query().Get("error"),
	})
}

func (p *Pages) forbidden(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusForbidden, "pages/403.html", "forbidden", nil)
}

func (p *Pages) notFound(w http.ResponseWriter, r *http.Request) {
	p.NotFound(w, r)
}

func (p *Pages) frame(w http.ResponseWriter, r *http.Request) {
	if !p.localeOK(w, r) {
		return
	}
	if strings.Trim(chi.URLParam(r, "*"), "/") == "" {
		p.home(w, r)
		return
	}

	path := rbac.NormalizePath(r.URL.Path)
	resource := p.Classifier.InferResource(path)
	data := FrameData{
		Resource: resource,
		Action:   string(rbac.InferAction(path)),
	}
	if d, ok := rbac.DecisionFromContext(r.Context()); ok {
		data.Permission = d.Permission
	}

	var role *rbac.Role
	if pl := session.FromContext(r.Context()); pl != nil && pl.User != nil {
		role = pl.User.Role
	}
	authz := rbac.NewAuthorizer(resource, role)
	data.Admin = authz.IsAdmin()
	data.Capabilities = []Capability{
		{Action: string(rbac.ActionRead), Allowed: authz.CanRead()},
		{Action: string(rbac.ActionCreate), Allowed: authz.CanCreate()},
		{Action: string(rbac.ActionUpdate), Allowed: authz.CanUpdate()},
		{Action: string(rbac.ActionDelete), Allowed: authz.CanDelete()},
	}
	data.Permissions = authz.Permissions()

	title := resource
	if title == "" {
		title = "app"
	}
	p.render(w, r, http.StatusOK, "pages/frame.html", title, data)
}

func (p *Pages) localeOK(w http.ResponseWriter, r *http.Request) bool {
	if p.Locales.Supported(chi.URLParam(r, "locale")) {
		return true
	}
	p.NotFound(w, r)
	return false
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name, titleKey string, data any) {
	locale := p.Locales.Resolve(r.URL.Path)
	msgs := MessagesFor(locale)
	td := TemplateData{
		Title:       msgs.Get(titleKey),
		Locale:      locale,
		Locales:     p.Locales.All(),
		CSRFToken:   p.CSRF.EnsureToken(w, r),
		CurrentPath: r.URL.Path,
		Session:     session.Project(session.FromContext(r.Context())),
		T:           msgs,
		Data:        data,
	}
	if err := p.Engine.RenderStatus(w, status, name, td); err != nil {
		p.logger().Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (p *Pages) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
