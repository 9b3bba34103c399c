package rbac

import (
	"fmt"
	"regexp"
	"strings"
)

// Override pins the permission of every path matching Pattern. An empty
// Permission means the path only needs an authenticated user.
type Override struct {
	Pattern    *regexp.Regexp
	Permission string
}

// Match reports whether the normalized path matches the override.
func (o Override) Match(path string) bool {
	return o.Pattern != nil && o.Pattern.MatchString(path)
}

// OverrideList is an ordered override table. It decodes from the
// "regex=>permission;regex=>permission" environment format.
type OverrideList []Override

// Decode implements envconfig.Decoder.
func (l *OverrideList) Decode(value string) error {
	parsed, err := ParseOverrides(value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseOverrides parses the override environment format. Entries keep their
// declaration order since the first match wins.
func ParseOverrides(value string) (OverrideList, error) {
	var out OverrideList
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pattern, perm, ok := strings.Cut(entry, "=>")
		if !ok {
			return nil, fmt.Errorf("rbac: override %q: missing =>", entry)
		}
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			return nil, fmt.Errorf("rbac: override %q: empty pattern", entry)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rbac: override %q: %w", entry, err)
		}
		out = append(out, Override{Pattern: re, Permission: strings.TrimSpace(perm)})
	}
	return out, nil
}
