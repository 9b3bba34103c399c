package rbac

import (
	"regexp"
	"strings"

	"github.com/odyssey-erp/console/internal/i18n"
)

// Action is the verb half of a permission name.
type Action string

// Actions inferred from page paths. Delete never comes from a path; it exists
// for module authorizers.
const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Class buckets a request path for the gate.
type Class int

const (
	// ClassProtected paths require a session and possibly a permission.
	ClassProtected Class = iota
	// ClassAsset paths are static files and always bypass auth.
	ClassAsset
	// ClassPublic paths are reachable without a session.
	ClassPublic
)

func (c Class) String() string {
	switch c {
	case ClassAsset:
		return "asset"
	case ClassPublic:
		return "public"
	default:
		return "protected"
	}
}

var (
	reNumeric  = regexp.MustCompile(`^\d+$`)
	reObjectID = regexp.MustCompile(`(?i)^[a-f0-9]{24}$`)
)

// DefaultAssetPrefixes are the static path prefixes that bypass auth.
var DefaultAssetPrefixes = []string{"/_next", "/favicon", "/assets"}

// DefaultAssetExtensions are the static file extensions that bypass auth.
var DefaultAssetExtensions = []string{"png", "jpg", "jpeg", "gif", "webp", "svg", "ico", "css", "js", "map"}

// ClassifierConfig configures a Classifier. Empty asset lists use the defaults.
type ClassifierConfig struct {
	Locales         *i18n.Locales
	AssetPrefixes   []string
	AssetExtensions []string
	// PublicPaths adds exact paths to the built-in public set.
	PublicPaths []string
	Overrides   []Override
}

// Classifier classifies request paths and infers the permission they require.
type Classifier struct {
	locales       *i18n.Locales
	assetPrefixes []string
	assetExt      *regexp.Regexp
	public        map[string]struct{}
	overrides     []Override
}

// NewClassifier builds a Classifier from cfg.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	prefixes := cfg.AssetPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultAssetPrefixes
	}
	exts := cfg.AssetExtensions
	if len(exts) == 0 {
		exts = DefaultAssetExtensions
	}
	quoted := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			quoted = append(quoted, regexp.QuoteMeta(ext))
		}
	}

	c := &Classifier{
		locales:       cfg.Locales,
		assetPrefixes: append([]string(nil), prefixes...),
		assetExt:      regexp.MustCompile(`(?i)\.(` + strings.Join(quoted, "|") + `)$`),
		public:        map[string]struct{}{"/": {}},
		overrides:     append([]Override(nil), cfg.Overrides...),
	}
	if cfg.Locales != nil {
		for _, code := range cfg.Locales.All() {
			base := "/" + code
			for _, p := range []string{base, base + "/", base + "/login", base + "/403", base + "/404"} {
				c.public[p] = struct{}{}
			}
		}
	}
	for _, p := range cfg.PublicPaths {
		p = strings.TrimSpace(p)
		if p != "" {
			c.public[NormalizePath(p)] = struct{}{}
		}
	}
	return c
}

// NormalizePath strips exactly one trailing slash unless path is the root.
func NormalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

// IsAsset reports whether path targets a static asset.
func (c *Classifier) IsAsset(path string) bool {
	for _, prefix := range c.assetPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return c.assetExt.MatchString(path)
}

// IsPublic reports whether the normalized path is on the public allow-list.
func (c *Classifier) IsPublic(path string) bool {
	_, ok := c.public[NormalizePath(path)]
	return ok
}

// Classify buckets path as asset, public or protected.
func (c *Classifier) Classify(path string) Class {
	path = NormalizePath(path)
	switch {
	case c.IsAsset(path):
		return ClassAsset
	case c.IsPublic(path):
		return ClassPublic
	default:
		return ClassProtected
	}
}

// InferResource returns the first non-empty segment, skipping a locale segment.
func (c *Classifier) InferResource(path string) string {
	segments := splitSegments(path)
	if len(segments) == 0 {
		return ""
	}
	if c.locales != nil && c.locales.Supported(segments[0]) {
		if len(segments) > 1 {
			return segments[1]
		}
		return ""
	}
	return segments[0]
}

// InferAction derives the action from the last path segment. An object id
// wins over keywords, keywords win over the read default.
func InferAction(path string) Action {
	segments := splitSegments(path)
	if len(segments) == 0 {
		return ActionRead
	}
	last := strings.ToLower(segments[len(segments)-1])
	switch {
	case reObjectID.MatchString(last):
		return ActionUpdate
	case last == "edit" || last == "update":
		return ActionUpdate
	case last == "new" || last == "create":
		return ActionCreate
	default:
		return ActionRead
	}
}

// RequiredPermission returns the permission path requires, or "" when none is
// needed. Overrides come first, then the public list, then the convention.
func (c *Classifier) RequiredPermission(path string) string {
	path = NormalizePath(path)
	for _, o := range c.overrides {
		if o.Match(path) {
			return o.Permission
		}
	}
	if c.IsPublic(path) {
		return ""
	}
	resource := c.InferResource(path)
	if resource == "" || reNumeric.MatchString(resource) {
		return ""
	}
	return resource + "." + string(InferAction(path))
}

func splitSegments(path string) []string {
	raw := strings.Split(path, "/")
	segments := raw[:0]
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
