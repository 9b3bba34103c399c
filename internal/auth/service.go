package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/console/internal/backend"
	"github.com/odyssey-erp/console/internal/session"
)

// Backend is the credential half of the backend API.
type Backend interface {
	Login(ctx context.Context, email, password string) (backend.Authentication, error)
	Logout(ctx context.Context, accessToken string) error
}

// ErrInvalidCredentials reports a rejected sign-in.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// RequestMeta describes the client of an auth request.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service wraps sign-in and sign-out around the backend and the session
// lifecycle.
type Service struct {
	backend Backend
	manager *session.Manager
	events  EventRecorder
	logger  *slog.Logger
}

// NewService constructs a Service. A nil recorder only logs.
func NewService(b Backend, manager *session.Manager, events EventRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = LogRecorder{Logger: logger}
	}
	return &Service{backend: b, manager: manager, events: events, logger: logger}
}

// SignIn exchanges credentials and returns the new session payload.
func (s *Service) SignIn(ctx context.Context, email, password string, meta RequestMeta) (session.Payload, error) {
	auth, err := s.backend.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			return session.Payload{}, ErrInvalidCredentials
		}
		return session.Payload{}, err
	}
	p := s.manager.Issue(auth)
	s.record(ctx, EventSignIn, p, meta)
	return p, nil
}

// SignOut revokes the backend session on a best effort basis.
func (s *Service) SignOut(ctx context.Context, p *session.Payload, meta RequestMeta) {
	if p == nil {
		return
	}
	if p.AccessToken != "" {
		if err := s.backend.Logout(ctx, p.AccessToken); err != nil {
			s.logger.Warn("backend logout", slog.String("sid", p.SID), slog.Any("error", err))
		}
	}
	s.record(ctx, EventSignOut, *p, meta)
}

// SessionExpired records a session dropped after its tokens could not be
// refreshed.
func (s *Service) SessionExpired(ctx context.Context, p session.Payload, meta RequestMeta) {
	s.record(ctx, EventSessionExpired, p, meta)
}

func (s *Service) record(ctx context.Context, kind string, p session.Payload, meta RequestMeta) {
	e := Event{
		Type:      kind,
		SID:       p.SID,
		UserID:    p.User.GetID(),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		At:        s.manager.Now(),
	}
	if p.User != nil {
		e.Email = p.User.Email
	}
	// Detached from request cancellation, bounded by its own timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Record(ctx, e); err != nil {
		s.logger.Warn("record auth event", slog.String("type", kind), slog.Any("error", err))
	}
}
