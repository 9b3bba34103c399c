package shared

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFIssueAndVerify(t *testing.T) {
	m := NewCSRFManager("csrfsecret", false)

	rec := httptest.NewRecorder()
	token := m.EnsureToken(rec, httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil))
	require.NotEmpty(t, token)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CSRFCookieName, cookies[0].Name)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.AddCookie(cookies[0])
	assert.NoError(t, m.VerifyToken(req, token))
	assert.ErrorIs(t, m.VerifyToken(req, "other"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(req, ""), ErrCSRFTokenMissing)

	// An existing valid cookie is reused.
	rec = httptest.NewRecorder()
	assert.Equal(t, token, m.EnsureToken(rec, req))
	assert.Empty(t, rec.Result().Cookies())
}

func TestCSRFRejectsForgedCookie(t *testing.T) {
	m := NewCSRFManager("csrfsecret", false)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "planted|bogus"})
	assert.ErrorIs(t, m.VerifyToken(req, "planted"), ErrCSRFTokenMissing)

	other := NewCSRFManager("othersecret", false)
	rec := httptest.NewRecorder()
	token := other.EnsureToken(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	assert.ErrorIs(t, m.VerifyToken(req, token), ErrCSRFTokenMissing)
}

func TestRequestToken(t *testing.T) {
	form := url.Values{CSRFFormField: {"from-form"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, "from-form", RequestToken(req))

	req.Header.Set(CSRFHeader, "from-header")
	assert.Equal(t, "from-header", RequestToken(req))
}
