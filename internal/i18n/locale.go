// Package i18n resolves the active locale of a request from its path and
// routes un-prefixed page requests onto a locale.
package i18n

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// CookieName stores the last locale the user browsed with.
const CookieName = "CONSOLE_LOCALE"

// ErrInvalidLocale reports a locale that is not a BCP 47 tag.
var ErrInvalidLocale = errors.New("i18n: invalid locale")

// Locales is the fixed set of supported locales plus the default fallback.
type Locales struct {
	supported []string
	index     map[string]struct{}
	def       string
	// ordered puts the default first so the matcher falls back to it.
	ordered []string
	matcher language.Matcher
}

// NewLocales validates the supported set and the default locale.
func NewLocales(supported []string, def string) (*Locales, error) {
	def = strings.TrimSpace(def)
	l := &Locales{index: make(map[string]struct{}, len(supported)), def: def}
	for _, raw := range supported {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if _, err := language.Parse(code); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidLocale, code, err)
		}
		if _, dup := l.index[code]; dup {
			continue
		}
		l.index[code] = struct{}{}
		l.supported = append(l.supported, code)
	}
	if len(l.supported) == 0 {
		return nil, errors.New("i18n: at least one locale required")
	}
	if _, ok := l.index[def]; !ok {
		return nil, fmt.Errorf("i18n: default locale %q is not supported", def)
	}

	l.ordered = append(l.ordered, def)
	tags := []language.Tag{language.MustParse(def)}
	for _, code := range l.supported {
		if code == def {
			continue
		}
		l.ordered = append(l.ordered, code)
		tags = append(tags, language.MustParse(code))
	}
	l.matcher = language.NewMatcher(tags)
	return l, nil
}

// MustLocales is NewLocales for static configuration.
func MustLocales(supported []string, def string) *Locales {
	l, err := NewLocales(supported, def)
	if err != nil {
		panic(err)
	}
	return l
}

// Supported reports whether code is one of the configured locales. The match is exact.
func (l *Locales) Supported(code string) bool {
	if l == nil || code == "" {
		return false
	}
	_, ok := l.index[code]
	return ok
}

// Default returns the fallback locale.
func (l *Locales) Default() string {
	return l.def
}

// All returns the configured locales in declaration order.
func (l *Locales) All() []string {
	return append([]string(nil), l.supported...)
}

// FromPath returns the locale carried by the first path segment, if any.
func (l *Locales) FromPath(path string) (string, bool) {
	first := firstSegment(path)
	if l.Supported(first) {
		return first, true
	}
	return "", false
}

// Resolve returns the effective locale for path, falling back to the default.
func (l *Locales) Resolve(path string) string {
	if code, ok := l.FromPath(path); ok {
		return code
	}
	return l.def
}

// Negotiate picks a locale for a request that does not carry one in its path.
// A valid locale cookie wins over Accept-Language.
func (l *Locales) Negotiate(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && l.Supported(c.Value) {
		return c.Value
	}
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return l.def
	}
	prefs, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(prefs) == 0 {
		return l.def
	}
	_, idx, confidence := l.matcher.Match(prefs...)
	if confidence == language.No || idx < 0 || idx >= len(l.ordered) {
		return l.def
	}
	return l.ordered[idx]
}

func firstSegment(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}
