package rbac

import (
	"context"
	"log/slog"
	"strings"
)

// RoleSource returns the role of the current actor, typically from a fresh
// profile lookup. A nil role with no error means the actor has no role.
type RoleSource interface {
	Role(ctx context.Context) (*Role, error)
}

// RoleSourceFunc adapts a function to RoleSource.
type RoleSourceFunc func(ctx context.Context) (*Role, error)

// Role implements RoleSource.
func (f RoleSourceFunc) Role(ctx context.Context) (*Role, error) { return f(ctx) }

// Checker answers server-side permission questions. Admins pass every check,
// empty input never passes, inactive permissions are ignored.
type Checker struct {
	Source RoleSource
	Logger *slog.Logger
}

// Validate reports whether the actor holds perm.
func (c Checker) Validate(ctx context.Context, perm string) bool {
	role, ok := c.role(ctx)
	if !ok {
		return false
	}
	if role.Admin() {
		return true
	}
	perm = strings.TrimSpace(perm)
	if perm == "" {
		return false
	}
	return activeSet(role).Has(perm)
}

// ValidateAny reports whether the actor holds at least one of perms.
func (c Checker) ValidateAny(ctx context.Context, perms ...string) bool {
	role, ok := c.role(ctx)
	if !ok {
		return false
	}
	if role.Admin() {
		return true
	}
	return hasAnyPermission(activeSet(role), perms)
}

// ValidateAll reports whether the actor holds every one of perms.
func (c Checker) ValidateAll(ctx context.Context, perms ...string) bool {
	role, ok := c.role(ctx)
	if !ok {
		return false
	}
	if role.Admin() {
		return true
	}
	return hasAllPermissions(activeSet(role), perms)
}

func (c Checker) role(ctx context.Context) (*Role, bool) {
	if c.Source == nil {
		return nil, false
	}
	role, err := c.Source.Role(ctx)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("rbac load role", slog.Any("error", err))
		}
		return nil, false
	}
	return role, true
}

func activeSet(role *Role) PermissionSet {
	if role == nil {
		return PermissionSet{}
	}
	return NewPermissionSet(role.Permissions, true)
}

func hasAnyPermission(granted PermissionSet, required []string) bool {
	for _, r := range required {
		if granted.Has(strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted PermissionSet, required []string) bool {
	if len(required) == 0 {
		return false
	}
	for _, r := range required {
		if !granted.Has(strings.TrimSpace(r)) {
			return false
		}
	}
	return true
}
