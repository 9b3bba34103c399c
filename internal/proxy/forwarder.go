// Package proxy forwards browser API calls to the backend with the session's
// bearer token attached.
package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/console/internal/platform/httpx"
	"github.com/odyssey-erp/console/internal/session"
)

// AllowedMethods lists the methods the forwarder accepts.
var AllowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodHead,
}

// ErrPathEscapesPrefix reports a path whose dot segments climb above the
// forwarded prefix.
var ErrPathEscapesPrefix = errors.New("proxy: path escapes prefix")

var (
	forwardedRequestHeaders  = []string{"Content-Type", "X-Timezone", "User-Agent"}
	forwardedResponseHeaders = []string{"X-Rate-Limit-Remaining", "X-Rate-Limit-Limit", "X-Rate-Limit-Reset", "Content-Disposition"}
)

// Forwarder maps {Prefix}/{path}?{query} onto {BaseURL}/api/{path}?{query}.
type Forwarder struct {
	baseURL string
	prefix  string
	client  *http.Client
	logger  *slog.Logger
	// OnUpstreamError is called for every network failure.
	OnUpstreamError func(err error)
}

// New constructs a Forwarder. Upstream redirects are returned to the caller
// as is.
func New(baseURL, prefix string, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  strings.TrimRight(prefix, "/"),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(r.Method) {
		w.Header().Set("Allow", strings.Join(AllowedMethods, ", "))
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	p := session.FromContext(r.Context())
	if p == nil || p.AccessToken == "" {
		f.logger.Warn("backend proxy without access token", slog.String("path", r.URL.Path))
		httpx.JSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	target, err := f.upstreamURL(r)
	if err != nil {
		f.logger.Warn("backend proxy rejected path", slog.String("path", r.URL.EscapedPath()), slog.Any("error", err))
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}

	var body io.Reader
	if methodAllowsBody(r.Method) {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}
	if body != nil {
		req.ContentLength = r.ContentLength
	}
	for _, name := range forwardedRequestHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("backend proxy upstream", slog.String("path", r.URL.Path), slog.Any("error", err))
		if f.OnUpstreamError != nil {
			f.OnUpstreamError(err)
		}
		httpx.JSON(w, http.StatusBadGateway, map[string]string{"error": "Upstream fetch failed", "details": err.Error()})
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	for _, name := range forwardedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Debug("backend proxy copy", slog.Any("error", err))
	}
}

func (f *Forwarder) upstreamURL(r *http.Request) (string, error) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), f.prefix)
	rest, err := resolveDots(strings.TrimLeft(rest, "/"))
	if err != nil {
		return "", err
	}
	target := f.baseURL + "/api/" + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target, nil
}

// resolveDots removes "." and ".." segments from an escaped relative path,
// decoding each segment first so %2e%2e counts as "..". Other segments keep
// their original escaping.
func resolveDots(escaped string) (string, error) {
	if escaped == "" {
		return "", nil
	}
	segments := strings.Split(escaped, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		switch decoded {
		case ".":
			continue
		case "..":
			if len(out) == 0 {
				return "", ErrPathEscapesPrefix
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/"), nil
}

func methodAllowed(method string) bool {
	for _, m := range AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func methodAllowsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
