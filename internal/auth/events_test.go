package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, Event) error { return f.err }

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	require.Len(t, db.calls, 2)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS auth_events")
	assert.Contains(t, db.calls[1].sql, "CREATE INDEX IF NOT EXISTS")

	db = &fakeExecer{err: errors.New("permission denied")}
	assert.ErrorContains(t, EnsureSchema(context.Background(), db), "auth: ensure schema")
}

func TestPGRecorderRecord(t *testing.T) {
	db := &fakeExecer{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	err := NewPGRecorder(db).Record(context.Background(), Event{
		Type: EventSignIn, SID: "sid-1", UserID: "u1", Email: "ana@example.com", IP: "10.0.0.1", At: at,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	require.Len(t, args, 7)
	assert.Equal(t, EventSignIn, args[0])
	assert.Equal(t, "sid-1", args[1])
	assert.Equal(t, at.UTC(), args[6])
}

func TestRecordersJoinErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	db := &fakeExecer{}
	rs := Recorders{failingRecorder{first}, NewPGRecorder(db), failingRecorder{second}}

	err := rs.Record(context.Background(), Event{Type: EventSignOut})
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Len(t, db.calls, 1, "a failing recorder must not stop the others")
}
