package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/odyssey-erp/console/internal/i18n"
)

// Headers annotating a request the gate allowed with a required permission.
const (
	HeaderRequiredPermission = "X-Required-Permission"
	HeaderAuthUserID         = "X-Auth-User-Id"
)

// DecisionKind is the outcome of the gate.
type DecisionKind int

const (
	DecisionAllow DecisionKind = iota
	// DecisionRedirectLogin means no authenticated user.
	DecisionRedirectLogin
	// DecisionRedirectForbidden means the user lacks the required permission.
	DecisionRedirectForbidden
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRedirectForbidden:
		return "redirect_forbidden"
	default:
		return "allow"
	}
}

// Reasons explaining a decision, used for logs and metrics.
const (
	ReasonAsset        = "asset"
	ReasonPublic       = "public"
	ReasonAnonymous    = "anonymous"
	ReasonNoPermission = "no_permission"
	ReasonAdmin        = "admin"
	ReasonGranted      = "granted"
	ReasonDenied       = "denied"
)

// Decision is the full result of evaluating one request.
type Decision struct {
	Kind       DecisionKind
	Reason     string
	Path       string
	Locale     string
	Permission string
	UserID     string
	// Location is set for redirects.
	Location string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Kind == DecisionAllow }

// Gate authorizes page requests before they reach a handler.
type Gate struct {
	Classifier *Classifier
	Locales    *i18n.Locales
	// Principal extracts the authenticated actor, nil when anonymous.
	Principal func(*http.Request) Principal
	// Observe is called with every decision.
	Observe func(Decision)
	Logger  *slog.Logger
}

// Evaluate decides a request without side effects. rawQuery is appended to
// the login redirect target.
func (g *Gate) Evaluate(path, rawQuery string, p Principal) Decision {
	path = NormalizePath(path)
	d := Decision{Path: path, Locale: g.Locales.Resolve(path)}

	switch g.Classifier.Classify(path) {
	case ClassAsset:
		d.Reason = ReasonAsset
		return d
	case ClassPublic:
		d.Reason = ReasonPublic
		return d
	}

	if p != nil {
		d.UserID = p.GetID()
	}
	if d.UserID == "" {
		next := path
		if rawQuery != "" {
			next += "?" + rawQuery
		}
		d.Kind = DecisionRedirectLogin
		d.Reason = ReasonAnonymous
		d.Location = "/" + d.Locale + "/login?" + url.Values{"next": {next}}.Encode()
		return d
	}

	d.Permission = g.Classifier.RequiredPermission(path)
	if d.Permission == "" {
		d.Reason = ReasonNoPermission
		return d
	}

	role := p.GetRole()
	switch {
	case role.Admin():
		d.Reason = ReasonAdmin
	case role.PermissionSet().Has(d.Permission):
		d.Reason = ReasonGranted
	default:
		d.Kind = DecisionRedirectForbidden
		d.Reason = ReasonDenied
		d.Location = "/" + d.Locale + "/403"
	}
	return d
}

// Middleware enforces Evaluate and publishes the decision on the context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Principal
		if g.Principal != nil {
			p = g.Principal(r)
		}
		d := g.Evaluate(r.URL.Path, r.URL.RawQuery, p)
		if g.Observe != nil {
			g.Observe(d)
		}

		if !d.Allowed() {
			if g.Logger != nil {
				g.Logger.Debug("rbac gate redirect",
					slog.String("path", d.Path),
					slog.String("decision", d.Kind.String()),
					slog.String("permission", d.Permission),
					slog.String("user_id", d.UserID))
			}
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}

		// Client supplied values must never reach the handler.
		r.Header.Del(HeaderRequiredPermission)
		r.Header.Del(HeaderAuthUserID)
		if d.Permission != "" {
			r.Header.Set(HeaderRequiredPermission, d.Permission)
			r.Header.Set(HeaderAuthUserID, d.UserID)
		}
		next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
	})
}

type decisionKey struct{}

// WithDecision stores d on ctx.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the gate decision for the request, if any.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}
