package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/console/internal/session"
)

func withToken(r *http.Request, token string) *http.Request {
	p := &session.Payload{SID: "s", User: &session.User{ID: "u1"}, AccessToken: token}
	return r.WithContext(session.WithPayload(r.Context(), p))
}

func TestForwarderRejectsUnknownMethods(t *testing.T) {
	f := New("http://backend.invalid", "/api/backend", time.Second, nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, withToken(httptest.NewRequest("TRACE", "/api/backend/v1/users", nil), "at"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD", rec.Header().Get("Allow"))
}

func TestForwarderRequiresAccessToken(t *testing.T) {
	f := New("http://backend.invalid", "/api/backend", time.Second, nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backend/v1/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestForwarderForwardsRequest(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
		w.Header().Set("X-Rate-Limit-Remaining", "9")
		w.Header().Set("X-Internal", "secret")
		w.Header().Set("Set-Cookie", "upstream=1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("id,name\n"))
	}))
	defer upstream.Close()

	f := New(upstream.URL+"/", "/api/backend", time.Second, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/backend/v1/users/import?dry=1&x=%2F", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timezone", "America/Sao_Paulo")
	req.Header.Set("User-Agent", "console-test")
	req.Header.Set("Cookie", "console.session-token=abc")
	req.Header.Set("Authorization", "Bearer spoofed")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, withToken(req, "at"))

	require.NotNil(t, got)
	assert.Equal(t, "/api/v1/users/import", got.URL.Path)
	assert.Equal(t, "dry=1&x=%2F", got.URL.RawQuery)
	assert.Equal(t, "Bearer at", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "America/Sao_Paulo", got.Header.Get("X-Timezone"))
	assert.Equal(t, "console-test", got.Header.Get("User-Agent"))
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Empty(t, got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, `{"a":1}`, gotBody)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="users.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "9", rec.Header().Get("X-Rate-Limit-Remaining"))
	assert.Empty(t, rec.Header().Get("X-Internal"))
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
	assert.Equal(t, "id,name\n", rec.Body.String())
}

func TestForwarderDropsBodyForGet(t *testing.T) {
	var gotLen int64 = -2
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotLen = int64(len(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	f := New(upstream.URL, "/api/backend", time.Second, nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, withToken(httptest.NewRequest(http.MethodGet, "/api/backend/v1/me", strings.NewReader("ignored")), "at"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(0), gotLen)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestForwarderDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/old" {
			http.Redirect(w, r, "/api/v1/new", http.StatusFound)
			return
		}
		t.Errorf("redirect followed to %s", r.URL.Path)
	}))
	defer upstream.Close()

	f := New(upstream.URL, "/api/backend", time.Second, nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, withToken(httptest.NewRequest(http.MethodGet, "/api/backend/v1/old", nil), "at"))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestForwarderUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	var failures int
	f := New(addr, "/api/backend", time.Second, nil)
	f.OnUpstreamError = func(error) { failures++ }
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, withToken(httptest.NewRequest(http.MethodDelete, "/api/backend/v1/users/1", nil), "at"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Upstream fetch failed"`)
	assert.Equal(t, 1, failures)
}

func TestForwarderRejectsPathsAbovePrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream reached at %s", r.URL.EscapedPath())
	}))
	defer upstream.Close()

	f := New(upstream.URL, "/api/backend", time.Second, nil)
	for _, target := range []string{
		"/api/backend/../internal/admin",
		"/api/backend/%2e%2e/internal/admin",
		"/api/backend/v1/%2E%2E/%2e%2e/internal/admin",
		"/api/backend/./../internal/admin",
	} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.ServeHTTP(rec, withToken(httptest.NewRequest(http.MethodGet, target, nil), "at"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Bad Request"}`, rec.Body.String())
		})
	}
}

func TestForwarderResolvesDotSegmentsWithinPrefix(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	f := New(upstream.URL, "/api/backend", time.Second, nil)
	cases := map[string]string{
		"/api/backend/v1/users/../me":          "/api/v1/me",
		"/api/backend/v1/./users/%2e%2e/me":    "/api/v1/me",
		"/api/backend/v1/files/a%2Fb":          "/api/v1/files/a%2Fb",
		"/api/backend/v1/users/%2e%2e/partner": "/api/v1/partner",
	}
	for target, want := range cases {
		rec := httptest.NewRecorder()
		f.ServeHTTP(rec, withToken(httptest.NewRequest(http.MethodGet, target, nil), "at"))
		require.Equal(t, http.StatusNoContent, rec.Code, target)
		assert.Equal(t, want, gotPath, target)
	}
}
