package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// CSRFCookieName holds the double-submit token.
	CSRFCookieName = "console.csrf-token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrfToken"
	// CSRFHeader carries the token for JSON requests.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies double-submit CSRF tokens. The cookie holds
// token|mac so a token planted without the secret is rejected.
type CSRFManager struct {
	secret []byte
	secure bool
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string, secure bool) *CSRFManager {
	return &CSRFManager{secret: []byte(secret), secure: secure}
}

// EnsureToken returns the token bound to the request cookie, issuing a new
// cookie when it is missing or invalid.
func (m *CSRFManager) EnsureToken(w http.ResponseWriter, r *http.Request) string {
	if token, ok := m.cookieToken(r); ok {
		return token
	}
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token + "|" + m.sign(token),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// VerifyToken compares the supplied token with the request cookie.
func (m *CSRFManager) VerifyToken(r *http.Request, token string) error {
	expected, ok := m.cookieToken(r)
	if !ok {
		return ErrCSRFTokenMissing
	}
	if token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// RequestToken extracts the submitted token from the header or the form.
func RequestToken(r *http.Request) string {
	if v := r.Header.Get(CSRFHeader); v != "" {
		return v
	}
	return r.PostFormValue(CSRFFormField)
}

func (m *CSRFManager) cookieToken(r *http.Request) (string, bool) {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil {
		return "", false
	}
	token, mac, ok := strings.Cut(c.Value, "|")
	if !ok || token == "" {
		return "", false
	}
	if !hmac.Equal([]byte(mac), []byte(m.sign(token))) {
		return "", false
	}
	return token, true
}

func (m *CSRFManager) sign(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
