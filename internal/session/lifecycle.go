package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/console/internal/backend"
)

// Lifecycle defaults.
const (
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultSyncInterval     = 15 * time.Minute
	DefaultSyncCooldown     = time.Minute
	// DefaultExpiresIn applies when the backend omits expiresIn, in seconds.
	DefaultExpiresIn int64 = 3600
)

var (
	// ErrRefreshFailed wraps any failure to rotate tokens.
	ErrRefreshFailed = errors.New("session: refresh failed")
	// ErrSyncFailed wraps any failure to re-read the user's role.
	ErrSyncFailed = errors.New("session: role sync failed")
	// ErrNoRefreshToken reports a payload that cannot be refreshed.
	ErrNoRefreshToken = errors.New("session: no refresh token")
)

// LifecycleError reports the steps of one evaluation that failed. The
// payload returned alongside it is still usable.
type LifecycleError struct {
	Refresh error
	Sync    error
}

func (e *LifecycleError) Error() string {
	var parts []string
	if e.Refresh != nil {
		parts = append(parts, e.Refresh.Error())
	}
	if e.Sync != nil {
		parts = append(parts, e.Sync.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *LifecycleError) Unwrap() []error {
	var errs []error
	if e.Refresh != nil {
		errs = append(errs, e.Refresh)
	}
	if e.Sync != nil {
		errs = append(errs, e.Sync)
	}
	return errs
}

// Refresher rotates tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (backend.Tokens, error)
}

// Outcome labels for the Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Observer receives refresh and sync outcomes.
type Observer interface {
	ObserveRefresh(outcome string)
	ObserveSync(outcome string)
}

// ManagerConfig configures a Manager. Zero durations use the defaults.
type ManagerConfig struct {
	RefreshThreshold time.Duration
	SyncInterval     time.Duration
	SyncCooldown     time.Duration
	Coordinator      Coordinator
	Observer         Observer
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Manager keeps a session payload fresh: it rotates tokens shortly before
// they expire and re-reads the user's role periodically.
type Manager struct {
	refresher Refresher
	profiles  backend.ProfileFetcher
	cfg       ManagerConfig
}

// NewManager constructs a Manager.
func NewManager(refresher Refresher, profiles backend.ProfileFetcher, cfg ManagerConfig) *Manager {
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.SyncCooldown <= 0 {
		cfg.SyncCooldown = DefaultSyncCooldown
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewLocalCoordinator(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{refresher: refresher, profiles: profiles, cfg: cfg}
}

// Now returns the manager clock.
func (m *Manager) Now() time.Time { return m.cfg.Clock() }

// Issue builds the payload for a fresh sign-in.
func (m *Manager) Issue(auth backend.Authentication) Payload {
	user := &User{ID: auth.User.ID, Name: auth.User.Name, Email: auth.User.Email, Role: auth.User.Role}
	return Payload{
		SID:           uuid.NewString(),
		User:          user,
		AccessToken:   auth.AccessToken,
		RefreshToken:  auth.RefreshToken,
		ExpiresAt:     m.nowMs() + expiresInMs(auth.ExpiresIn),
		RolesSyncedAt: 0,
	}
}

// Evaluate refreshes and re-syncs p when due. Refresh always runs before
// sync, and both may run in the same pass. The input is never modified.
func (m *Manager) Evaluate(ctx context.Context, p Payload) (Payload, error) {
	if p.AccessToken == "" || p.User == nil || p.User.ID == "" {
		return p, nil
	}
	next := p.Clone()
	var lerr LifecycleError

	if next.ExpiresAt-m.nowMs() < m.cfg.RefreshThreshold.Milliseconds() {
		if err := m.refresh(ctx, &next); err != nil {
			lerr.Refresh = err
		}
	}
	if m.nowMs()-next.RolesSyncedAt > m.cfg.SyncInterval.Milliseconds() {
		if err := m.sync(ctx, &next); err != nil {
			lerr.Sync = err
		}
	}

	if lerr.Refresh != nil || lerr.Sync != nil {
		return next, &lerr
	}
	return next, nil
}

func (m *Manager) refresh(ctx context.Context, p *Payload) error {
	if p.RefreshToken == "" {
		p.Error = RefreshError
		m.observeRefresh(OutcomeFailure)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
	}
	refreshToken := p.RefreshToken
	grant, err := m.cfg.Coordinator.Refresh(ctx, RefreshKey(p.SID, refreshToken), func(ctx context.Context) (Grant, error) {
		tokens, err := m.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			return Grant{}, err
		}
		return Grant{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresIn:    tokens.ExpiresIn,
			ReceivedAt:   m.nowMs(),
		}, nil
	})
	if err != nil {
		p.Error = RefreshError
		m.observeRefresh(OutcomeFailure)
		m.cfg.Logger.Warn("session refresh failed", slog.String("sid", p.SID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	p.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		p.RefreshToken = grant.RefreshToken
	}
	p.ExpiresAt = grant.ReceivedAt + expiresInMs(grant.ExpiresIn)
	p.Error = ""
	m.observeRefresh(OutcomeSuccess)
	return nil
}

func (m *Manager) sync(ctx context.Context, p *Payload) error {
	profile, err := m.profiles.Profile(ctx, p.AccessToken)
	if err != nil {
		p.RolesSyncedAt = m.nowMs() + m.cfg.SyncCooldown.Milliseconds()
		m.observeSync(OutcomeFailure)
		m.cfg.Logger.Warn("session role sync failed", slog.String("sid", p.SID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	user := *p.User
	if user.ID == "" {
		user.ID = profile.ID
	}
	if profile.Name != "" {
		user.Name = profile.Name
	}
	if profile.Email != "" {
		user.Email = profile.Email
	}
	user.Role = profile.Role
	p.User = &user
	p.RolesSyncedAt = m.nowMs()
	m.observeSync(OutcomeSuccess)
	return nil
}

func (m *Manager) nowMs() int64 { return m.cfg.Clock().UnixMilli() }

func (m *Manager) observeRefresh(outcome string) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.ObserveRefresh(outcome)
	}
}

func (m *Manager) observeSync(outcome string) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.ObserveSync(outcome)
	}
}

func expiresInMs(seconds int64) int64 {
	if seconds <= 0 {
		seconds = DefaultExpiresIn
	}
	return seconds * 1000
}
