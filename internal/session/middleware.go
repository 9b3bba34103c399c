package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/console/internal/backend"
)

// DefaultUpdateAge is how old a cookie may get before it is rewritten even
// when nothing changed.
const DefaultUpdateAge = 24 * time.Hour

// Materializer loads the session of every request, runs the lifecycle on it
// and publishes the result on the request context.
type Materializer struct {
	Store     Store
	Manager   *Manager
	UpdateAge time.Duration
	Logger    *slog.Logger
	// OnDrop is called when a session is discarded after a failed refresh.
	OnDrop func(r *http.Request, p Payload)
}

// Middleware implements the per-request session pass.
func (m *Materializer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := backend.WithProfileMemo(r.Context())
		r = r.WithContext(ctx)

		p := m.materialize(w, r)
		next.ServeHTTP(w, r.WithContext(WithPayload(ctx, p)))
	})
}

func (m *Materializer) materialize(w http.ResponseWriter, r *http.Request) *Payload {
	stored, err := m.Store.Get(r)
	if err != nil {
		m.logger().Debug("session cookie rejected", slog.Any("error", err))
		m.Store.Clear(w, r)
		return nil
	}
	if stored == nil {
		return nil
	}

	evaluated, err := m.Manager.Evaluate(r.Context(), *stored)
	if err != nil {
		m.logger().Debug("session lifecycle", slog.String("sid", stored.SID), slog.Any("error", err))
	}
	now := m.Manager.Now()

	if evaluated.Error == RefreshError && evaluated.Expired(now) {
		m.Store.Clear(w, r)
		if m.OnDrop != nil {
			m.OnDrop(r, evaluated)
		}
		return nil
	}

	updateAge := m.UpdateAge
	if updateAge <= 0 {
		updateAge = DefaultUpdateAge
	}
	if evaluated.Differs(*stored) || now.Sub(stored.IssuedAt()) > updateAge {
		if err := m.Store.Put(w, r, evaluated); err != nil {
			m.logger().Error("session write", slog.String("sid", evaluated.SID), slog.Any("error", err))
		}
	}
	return &evaluated
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
