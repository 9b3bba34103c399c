package backend

import (
	"context"
	"sync"
)

// ProfileFetcher introspects the user owning an access token.
type ProfileFetcher interface {
	Profile(ctx context.Context, accessToken string) (Profile, error)
}

type memoKey struct{}

type profileMemo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	once    sync.Once
	profile Profile
	err     error
}

// WithProfileMemo starts a profile memo scoped to ctx. Nested calls reuse the
// existing memo.
func WithProfileMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(memoKey{}).(*profileMemo); ok {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &profileMemo{entries: make(map[string]*memoEntry)})
}

// MemoProfiles wraps f so that, inside a memo scope, each access token is
// introspected at most once. Outside a scope every call goes through to f.
func MemoProfiles(f ProfileFetcher) ProfileFetcher {
	return memoFetcher{next: f}
}

type memoFetcher struct {
	next ProfileFetcher
}

func (m memoFetcher) Profile(ctx context.Context, accessToken string) (Profile, error) {
	memo, ok := ctx.Value(memoKey{}).(*profileMemo)
	if !ok {
		return m.next.Profile(ctx, accessToken)
	}
	memo.mu.Lock()
	entry, ok := memo.entries[accessToken]
	if !ok {
		entry = &memoEntry{}
		memo.entries[accessToken] = entry
	}
	memo.mu.Unlock()

	entry.once.Do(func() {
		entry.profile, entry.err = m.next.Profile(ctx, accessToken)
	})
	return entry.profile, entry.err
}
