package i18n

import (
	"net/http"
	"time"
)

const cookieMaxAge = 365 * 24 * time.Hour

// Router keeps every page URL prefixed with a supported locale.
type Router struct {
	Locales *Locales
	// Skip exempts paths such as static assets from locale routing.
	Skip func(path string) bool
	// Secure marks the locale cookie Secure.
	Secure bool
}

// Middleware redirects un-prefixed requests to /{locale}{path} and remembers
// the locale of prefixed ones.
func (rt Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if rt.Skip != nil && rt.Skip(path) {
			next.ServeHTTP(w, r)
			return
		}

		if code, ok := rt.Locales.FromPath(path); ok {
			if c, err := r.Cookie(CookieName); err != nil || c.Value != code {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    code,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					Secure:   rt.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		target := "/" + rt.Locales.Negotiate(r)
		if path != "/" && path != "" {
			target += path
		}
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	})
}
