package session

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultCookieName is the session cookie name before any prefix.
const DefaultCookieName = "console.session-token"

// chunkSize keeps each cookie below the browser limit of 4096 bytes.
const chunkSize = 3800

// maxChunks bounds how many chunk cookies are read back.
const maxChunks = 16

// Store persists the session payload between requests.
type Store interface {
	// Get returns the stored payload, or nil when there is none. A non-nil
	// error means a cookie was present but unreadable.
	Get(r *http.Request) (*Payload, error)
	Put(w http.ResponseWriter, r *http.Request, p Payload) error
	Clear(w http.ResponseWriter, r *http.Request)
}

// CookieOptions configures a CookieStore.
type CookieOptions struct {
	Name   string
	Domain string
	// Secure marks cookies Secure and adds the __Secure- prefix.
	Secure bool
}

// CookieStore keeps the sealed payload in the browser, split across numbered
// cookies when it does not fit in one.
type CookieStore struct {
	codec  *Codec
	name   string
	domain string
	secure bool
}

// NewCookieStore constructs a CookieStore.
func NewCookieStore(codec *Codec, opts CookieOptions) *CookieStore {
	name := opts.Name
	if name == "" {
		name = DefaultCookieName
	}
	if opts.Secure && !strings.HasPrefix(name, "__Secure-") {
		name = "__Secure-" + name
	}
	return &CookieStore{codec: codec, name: name, domain: opts.Domain, secure: opts.Secure}
}

// CookieName returns the effective cookie name.
func (s *CookieStore) CookieName() string { return s.name }

// Get implements Store.
func (s *CookieStore) Get(r *http.Request) (*Payload, error) {
	raw := s.read(r)
	if raw == "" {
		return nil, nil
	}
	return s.codec.Decode(raw)
}

// Put implements Store.
func (s *CookieStore) Put(w http.ResponseWriter, r *http.Request, p Payload) error {
	if p.SID == "" {
		return errors.New("session: payload without sid")
	}
	value, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	maxAge := int(s.codec.TTL() / time.Second)
	existing := s.chunkIndexes(r)

	if len(value) <= chunkSize {
		http.SetCookie(w, s.cookie(s.name, value, maxAge))
		for _, i := range existing {
			http.SetCookie(w, s.cookie(s.chunkName(i), "", -1))
		}
		return nil
	}

	n := 0
	for start := 0; start < len(value); start += chunkSize {
		end := start + chunkSize
		if end > len(value) {
			end = len(value)
		}
		http.SetCookie(w, s.cookie(s.chunkName(n), value[start:end], maxAge))
		n++
	}
	for _, i := range existing {
		if i >= n {
			http.SetCookie(w, s.cookie(s.chunkName(i), "", -1))
		}
	}
	if _, err := r.Cookie(s.name); err == nil {
		http.SetCookie(w, s.cookie(s.name, "", -1))
	}
	return nil
}

// Clear implements Store. Every session cookie present on r is expired.
func (s *CookieStore) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.cookie(s.name, "", -1))
	for _, i := range s.chunkIndexes(r) {
		http.SetCookie(w, s.cookie(s.chunkName(i), "", -1))
	}
}

func (s *CookieStore) read(r *http.Request) string {
	if c, err := r.Cookie(s.name); err == nil && c.Value != "" {
		return c.Value
	}
	var b strings.Builder
	for i := 0; i < maxChunks; i++ {
		c, err := r.Cookie(s.chunkName(i))
		if err != nil {
			break
		}
		b.WriteString(c.Value)
	}
	return b.String()
}

func (s *CookieStore) chunkIndexes(r *http.Request) []int {
	prefix := s.name + "."
	var out []int
	for _, c := range r.Cookies() {
		if !strings.HasPrefix(c.Name, prefix) {
			continue
		}
		i, err := strconv.Atoi(strings.TrimPrefix(c.Name, prefix))
		if err != nil || i < 0 {
			continue
		}
		out = append(out, i)
	}
	return out
}

func (s *CookieStore) chunkName(i int) string {
	return s.name + "." + strconv.Itoa(i)
}

func (s *CookieStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
