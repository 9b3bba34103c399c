// Package session owns the console session: the token payload, its
// signed and encrypted cookie form, and the refresh and role-sync lifecycle.
package session

import (
	"reflect"
	"time"

	"github.com/odyssey-erp/console/internal/rbac"
)

// RefreshError marks a payload whose last token refresh failed.
const RefreshError = "RefreshAccessTokenError"

// User is the user snapshot carried in the session.
type User struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
	Role  *rbac.Role `json:"role,omitempty"`
}

// GetID implements rbac.Principal.
func (u *User) GetID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// GetRole implements rbac.Principal.
func (u *User) GetRole() *rbac.Role {
	if u == nil {
		return nil
	}
	return u.Role
}

// Payload is the session token. Timestamps are epoch milliseconds.
// Roles are replaced, never mutated in place, so copies may share them.
type Payload struct {
	SID           string `json:"sid"`
	User          *User  `json:"user,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
	RolesSyncedAt int64  `json:"rolesSyncedAt"`
	Error         string `json:"error,omitempty"`

	issuedAt time.Time
}

// Clone returns a copy that can be modified without touching p.
func (p Payload) Clone() Payload {
	if p.User != nil {
		u := *p.User
		p.User = &u
	}
	return p
}

// Authenticated reports whether the payload identifies a user.
func (p *Payload) Authenticated() bool {
	return p != nil && p.User != nil && p.User.ID != ""
}

// Principal returns the user as an rbac.Principal, nil when anonymous.
func (p *Payload) Principal() rbac.Principal {
	if !p.Authenticated() {
		return nil
	}
	return p.User
}

// Expired reports whether the access token is past its expiry at now.
func (p *Payload) Expired(now time.Time) bool {
	return p.ExpiresAt <= now.UnixMilli()
}

// IssuedAt is when the cookie holding p was last written, zero for a payload
// that was never stored.
func (p *Payload) IssuedAt() time.Time {
	return p.issuedAt
}

// Differs reports whether p and other carry different session state.
func (p Payload) Differs(other Payload) bool {
	if p.SID != other.SID ||
		p.AccessToken != other.AccessToken ||
		p.RefreshToken != other.RefreshToken ||
		p.ExpiresAt != other.ExpiresAt ||
		p.RolesSyncedAt != other.RolesSyncedAt ||
		p.Error != other.Error {
		return true
	}
	return !reflect.DeepEqual(p.User, other.User)
}
