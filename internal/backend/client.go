// Package backend talks to the console's REST API: credential exchange,
// token refresh, profile introspection and health.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/console/internal/rbac"
)

// Endpoints below are relative to {baseURL}/api.
const (
	PathLogin   = "/v1/auth/login"
	PathRefresh = "/v1/auth/refresh"
	PathProfile = "/v1/me"
	PathLogout  = "/v1/sessions/logout"
	PathHealth  = "/v1/health"
)

// DefaultTimeout bounds every backend call.
const DefaultTimeout = 8 * time.Second

// maxBody caps decoded response bodies.
const maxBody = 4 << 20

var (
	// ErrInvalidCredentials reports a rejected credential exchange.
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	// ErrEmptyResponse reports an envelope without data.
	ErrEmptyResponse = errors.New("backend: empty response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s returned status %d", e.Method, e.Path, e.Code)
}

// envelope is the response shape of every backend endpoint.
type envelope[T any] struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    *T   `json:"data"`
}

// Profile is the authenticated user as the backend describes it.
type Profile struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
	Role  *rbac.Role `json:"role,omitempty"`
}

// Tokens is the credential half of a login or refresh response. ExpiresIn is
// in seconds and zero when the backend omitted it.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// Authentication is a successful credential exchange.
type Authentication struct {
	User Profile `json:"user"`
	Tokens
}

// Client calls the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL. A non-positive timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Login exchanges credentials for tokens and the user snapshot.
func (c *Client) Login(ctx context.Context, email, password string) (Authentication, error) {
	var out Authentication
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, PathLogin, "", body, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return Authentication{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return Authentication{}, err
	}
	if out.AccessToken == "" || out.User.ID == "" {
		return Authentication{}, ErrEmptyResponse
	}
	return out, nil
}

// Refresh rotates tokens with a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var out Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, PathRefresh, "", body, &out); err != nil {
		return Tokens{}, err
	}
	if out.AccessToken == "" {
		return Tokens{}, ErrEmptyResponse
	}
	return out, nil
}

// Profile introspects the user owning accessToken.
func (c *Client) Profile(ctx context.Context, accessToken string) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, PathProfile, accessToken, nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// Logout revokes the backend session of accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, PathLogout, accessToken, nil, nil)
}

// Health checks that the backend answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return decodeEnvelope(resp.Body, path, out)
}

func decodeEnvelope(r io.Reader, path string, out any) error {
	var env envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(r, maxBody)).Decode(&env); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	if env.Data == nil || len(*env.Data) == 0 || bytes.Equal(*env.Data, []byte("null")) {
		return fmt.Errorf("%w: %s", ErrEmptyResponse, path)
	}
	if err := json.Unmarshal(*env.Data, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
