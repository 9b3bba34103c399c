package rbac

import (
	"bytes"
	"encoding/json"
)

// Permission represents an atomic capability, conventionally named "resource.action".
type Permission struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Module   string  `json:"module,omitempty"`
	Action   Actions `json:"action,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// Active reports whether the permission is enabled. A missing flag counts as active.
func (p Permission) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// Actions holds the action(s) of a permission. The backend sends either a
// single string or a list.
type Actions []string

// UnmarshalJSON accepts "read" as well as ["read","update"].
func (a *Actions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single == "" {
			*a = nil
			return nil
		}
		*a = Actions{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

// Contains reports whether action is listed.
func (a Actions) Contains(action string) bool {
	for _, v := range a {
		if v == action {
			return true
		}
	}
	return false
}

// Role is a permission grouping embedded in the session user snapshot.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsAdmin     bool         `json:"isAdmin"`
	Permissions []Permission `json:"permissions"`
}

// Admin reports whether the role bypasses permission checks.
func (r *Role) Admin() bool {
	return r != nil && r.IsAdmin
}

// PermissionSet returns the names granted by the role.
func (r *Role) PermissionSet() PermissionSet {
	if r == nil {
		return PermissionSet{}
	}
	return NewPermissionSet(r.Permissions, false)
}

// PermissionSet is a set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from perms. With activeOnly, disabled
// permissions are left out.
func NewPermissionSet(perms []Permission, activeOnly bool) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p.Name == "" {
			continue
		}
		if activeOnly && !p.Active() {
			continue
		}
		set[p.Name] = struct{}{}
	}
	return set
}

// Has reports exact, case-sensitive membership.
func (s PermissionSet) Has(name string) bool {
	if name == "" {
		return false
	}
	_, ok := s[name]
	return ok
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() string
	GetRole() *Role
}
