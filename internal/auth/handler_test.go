package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/console/internal/auth"
	"github.com/odyssey-erp/console/internal/backend"
	"github.com/odyssey-erp/console/internal/i18n"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
	"github.com/odyssey-erp/console/internal/shared"
	_ "github.com/odyssey-erp/console/testing"
)

const sessionSecret = "0123456789abcdef0123456789abcdef"

type memoryRecorder struct {
	mu     sync.Mutex
	events []auth.Event
}

func (m *memoryRecorder) Record(ctx context.Context, e auth.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryRecorder) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeAPI struct {
	server      *httptest.Server
	profileHits atomic.Int32
	logoutHits  atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	envelope := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "status": 200, "data": data})
	}
	role := map[string]any{"id": "r1", "name": "Editor", "isAdmin": false, "permissions": []any{
		map[string]any{"id": "p1", "name": "users.read"},
		map[string]any{"id": "p2", "name": "users.update", "isActive": false},
		map[string]any{"id": "p3", "name": "roles.read"},
	}}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["password"] != "correct-horse" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			envelope(w, map[string]any{
				"user":         map[string]any{"id": "u1", "name": "Ana", "email": body["email"], "role": role},
				"accessToken":  "at-1",
				"refreshToken": "rt-1",
				"expiresIn":    3600,
			})
		case "/api/v1/me":
			api.profileHits.Add(1)
			envelope(w, map[string]any{"id": "u1", "role": role})
		case "/api/v1/sessions/logout":
			api.logoutHits.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.server.Close)
	return api
}

type fixture struct {
	api      *fakeAPI
	router   chi.Router
	events   *memoryRecorder
	csrf     *shared.CSRFManager
	store    *session.CookieStore
	csrfTok  string
	csrfCook *http.Cookie
}

func newFixture(t *testing.T, loginLimit int) *fixture {
	t.Helper()
	api := newFakeAPI(t)
	client := backend.NewClient(api.server.URL, time.Second)
	profiles := backend.MemoProfiles(client)
	manager := session.NewManager(client, profiles, session.ManagerConfig{})
	codec, err := session.NewCodec(sessionSecret, time.Hour)
	require.NoError(t, err)
	store := session.NewCookieStore(codec, session.CookieOptions{})
	csrf := shared.NewCSRFManager("csrfsecret", false)
	events := &memoryRecorder{}
	locales := i18n.MustLocales([]string{"en", "pt-BR"}, "pt-BR")

	handler := auth.NewHandler(auth.HandlerConfig{
		Service:        auth.NewService(client, manager, events, nil),
		Store:          store,
		CSRF:           csrf,
		Checker:        rbac.Checker{Source: auth.ProfileRoles{Profiles: profiles}},
		Locales:        locales,
		LoginRateLimit: loginLimit,
	})
	mat := &session.Materializer{Store: store, Manager: manager}
	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(mat.Middleware)
		handler.MountRoutes(r)
	})

	rec := httptest.NewRecorder()
	token := csrf.EnsureToken(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return &fixture{
		api: api, router: r, events: events, csrf: csrf, store: store,
		csrfTok: token, csrfCook: rec.Result().Cookies()[0],
	}
}

func (f *fixture) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) formLogin(values url.Values, withCSRF bool) *httptest.ResponseRecorder {
	if withCSRF {
		values.Set(shared.CSRFFormField, f.csrfTok)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.10:5555"
	return f.do(req, f.csrfCook)
}

func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if strings.HasPrefix(c.Name, session.DefaultCookieName) && c.MaxAge >= 0 {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return out
}

func (f *fixture) signedIn(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := f.formLogin(url.Values{"email": {"ana@example.com"}, "password": {"correct-horse"}}, true)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := sessionCookies(rec)
	require.NotEmpty(t, cookies)
	return cookies
}

func TestCSRFEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["csrfToken"])
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestFormLoginSuccessRedirectsToNext(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.formLogin(url.Values{
		"email": {"ana@example.com"}, "password": {"correct-horse"}, "next": {"/en/roles?page=2"},
	}, true)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/en/roles?page=2", rec.Header().Get("Location"))
	assert.NotEmpty(t, sessionCookies(rec))
	assert.Equal(t, []string{auth.EventSignIn}, f.events.types())
	assert.Equal(t, "192.0.2.10", f.events.events[0].IP)
}

func TestFormLoginIgnoresUnsafeNext(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.formLogin(url.Values{
		"email": {"ana@example.com"}, "password": {"correct-horse"}, "next": {"//evil.example.com/x"}, "locale": {"en"},
	}, true)
	assert.Equal(t, "/en", rec.Header().Get("Location"))
}

func TestFormLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.formLogin(url.Values{"email": {"ana@example.com"}, "password": {"wrong"}, "next": {"/en/users"}}, true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/en/login?error=CredentialsSignin&next=%2Fen%2Fusers", rec.Header().Get("Location"))
	assert.Empty(t, sessionCookies(rec))
	assert.Empty(t, f.events.types())
}

func TestFormLoginRequiresCSRF(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.formLogin(url.Values{"email": {"ana@example.com"}, "password": {"correct-horse"}}, false)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/pt-BR/login?error=MissingCSRF", rec.Header().Get("Location"))
	assert.Empty(t, sessionCookies(rec))
}

func TestJSONLogin(t *testing.T) {
	f := newFixture(t, 0)

	post := func(body string, csrf bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if csrf {
			req.Header.Set(shared.CSRFHeader, f.csrfTok)
		}
		return f.do(req, f.csrfCook)
	}

	rec := post(`{"email":"ana@example.com","password":"correct-horse"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.NotContains(t, rec.Body.String(), "at-1")

	rec = post(`{"email":"ana@example.com","password":"nope"}`, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(`{"email":"not-an-email","password":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"email":"ana@example.com","password":"correct-horse"}`, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionProjection(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	assert.JSONEq(t, `{}`, rec.Body.String())

	cookies := f.signedIn(t)
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/auth/session", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.HasAccess)
	assert.Equal(t, "u1", view.User.ID)
	assert.NotContains(t, rec.Body.String(), "rt-1")
	assert.NotContains(t, rec.Body.String(), "at-1")
}

func TestPermissionsEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/permissions?name=users.read", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookies := f.signedIn(t)
	check := func(query string) bool {
		before := f.api.profileHits.Load()
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/permissions?"+query, nil), cookies...)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		// First sync plus the check share one introspection per request.
		assert.Equal(t, before+1, f.api.profileHits.Load())
		var body struct {
			Allowed bool `json:"allowed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Allowed
	}
	assert.True(t, check("name=users.read"))
	assert.False(t, check("name=users.update"), "inactive permission")
	assert.True(t, check("name=users.read&mode=all"))
	assert.False(t, check("name=users.update&mode=any"))
	assert.True(t, check("name=users.update&name=roles.read&mode=any"))
	assert.False(t, check("name=users.read&name=users.update&mode=all"))
	assert.True(t, check("name=users.read&name=roles.read&mode=all"))
	assert.False(t, check(""))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/auth/permissions?name=a&mode=some", nil), cookies...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, 0)
	cookies := f.signedIn(t)

	form := url.Values{shared.CSRFFormField: {f.csrfTok}, "locale": {"en"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req, append(cookies, f.csrfCook)...)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/en/login", rec.Header().Get("Location"))
	assert.Equal(t, int32(1), f.api.logoutHits.Load())
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
	assert.Equal(t, []string{auth.EventSignIn, auth.EventSignOut}, f.events.types())
}

func TestLogoutRequiresCSRF(t *testing.T) {
	f := newFixture(t, 0)
	cookies := f.signedIn(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Accept", "application/json")
	rec := f.do(req, cookies...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.api.logoutHits.Load())
}

func TestLoginRateLimit(t *testing.T) {
	f := newFixture(t, 2)
	for i := 0; i < 2; i++ {
		rec := f.formLogin(url.Values{"email": {"ana@example.com"}, "password": {"wrong"}}, true)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	}
	rec := f.formLogin(url.Values{"email": {"ana@example.com"}, "password": {"wrong"}}, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSafeNext(t *testing.T) {
	assert.True(t, auth.SafeNext("/en/roles"))
	assert.False(t, auth.SafeNext("//evil.com"))
	assert.False(t, auth.SafeNext("/\\evil.com"))
	assert.False(t, auth.SafeNext("https://evil.com"))
	assert.False(t, auth.SafeNext(""))
}
