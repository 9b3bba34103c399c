package auth

import (
	"context"
	"errors"

	"github.com/odyssey-erp/console/internal/backend"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
)

// ErrNoSession reports a permission check without a signed-in user.
var ErrNoSession = errors.New("auth: no session")

// ProfileRoles is an rbac.RoleSource reading the role from the backend
// profile of the request's session. Wrap the fetcher with
// backend.MemoProfiles to introspect at most once per request.
type ProfileRoles struct {
	Profiles backend.ProfileFetcher
}

// Role implements rbac.RoleSource.
func (p ProfileRoles) Role(ctx context.Context) (*rbac.Role, error) {
	s := session.FromContext(ctx)
	if s == nil || s.AccessToken == "" {
		return nil, ErrNoSession
	}
	profile, err := p.Profiles.Profile(ctx, s.AccessToken)
	if err != nil {
		return nil, err
	}
	return profile.Role, nil
}
