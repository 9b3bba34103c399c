package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Event types.
const (
	EventSignIn         = "signIn"
	EventSignOut        = "signOut"
	EventSessionExpired = "sessionExpired"
)

// Event is one authentication audit record.
type Event struct {
	Type      string
	SID       string
	UserID    string
	Email     string
	IP        string
	UserAgent string
	At        time.Time
}

// EventRecorder stores authentication events.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

// LogRecorder writes events to the structured log.
type LogRecorder struct {
	Logger *slog.Logger
}

// Record implements EventRecorder.
func (l LogRecorder) Record(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "auth event",
		slog.String("type", e.Type),
		slog.String("sid", e.SID),
		slog.String("user_id", e.UserID),
		slog.String("ip", e.IP))
	return nil
}

// Execer is the part of pgxpool.Pool the PG recorder uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const authEventsSchema = `CREATE TABLE IF NOT EXISTS auth_events (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	sid TEXT NOT NULL,
	user_id TEXT NOT NULL,
	email TEXT,
	ip TEXT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`

const authEventsIndex = `CREATE INDEX IF NOT EXISTS auth_events_user_created_idx ON auth_events (user_id, created_at DESC)`

const insertAuthEvent = `INSERT INTO auth_events (type, sid, user_id, email, ip, user_agent, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)`

// PGRecorder persists events in PostgreSQL.
type PGRecorder struct {
	db Execer
}

// NewPGRecorder constructs a PGRecorder.
func NewPGRecorder(db Execer) *PGRecorder {
	return &PGRecorder{db: db}
}

// EnsureSchema creates the auth_events table and its index when missing.
// Run it inside a transaction.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range []string{authEventsSchema, authEventsIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("auth: ensure schema: %w", err)
		}
	}
	return nil
}

// Record implements EventRecorder.
func (p *PGRecorder) Record(ctx context.Context, e Event) error {
	_, err := p.db.Exec(ctx, insertAuthEvent, e.Type, e.SID, e.UserID, e.Email, e.IP, e.UserAgent, e.At.UTC())
	if err != nil {
		return fmt.Errorf("auth: record %s: %w", e.Type, err)
	}
	return nil
}

// Recorders fans an event out to every recorder and joins their errors.
type Recorders []EventRecorder

// Record implements EventRecorder.
func (rs Recorders) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
