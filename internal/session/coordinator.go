package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Grant is the outcome of one token refresh. ReceivedAt is epoch ms.
type Grant struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	ReceivedAt   int64  `json:"receivedAt"`
}

// RefreshFunc performs the actual refresh call.
type RefreshFunc func(ctx context.Context) (Grant, error)

// Coordinator ensures one refresh token is spent at most once even when
// several requests carrying it arrive together.
type Coordinator interface {
	Refresh(ctx context.Context, key string, fn RefreshFunc) (Grant, error)
}

// ErrRefreshInFlight reports that another instance holds the refresh lock and
// did not publish a grant in time.
var ErrRefreshInFlight = errors.New("session: refresh in flight elsewhere")

// RefreshKey identifies one refresh token of one session.
func RefreshKey(sid, refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return sid + ":" + hex.EncodeToString(sum[:12])
}

const (
	defaultGrantTTL   = 30 * time.Second
	defaultRecentSize = 4096
)

// LocalCoordinator collapses concurrent refreshes in one process and
// remembers recent grants so requests that arrive just after a rotation
// reuse it.
type LocalCoordinator struct {
	group  singleflight.Group
	recent *lru.LRU[string, Grant]
}

// NewLocalCoordinator returns a coordinator that keeps grants for ttl.
func NewLocalCoordinator(ttl time.Duration) *LocalCoordinator {
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}
	return &LocalCoordinator{recent: lru.NewLRU[string, Grant](defaultRecentSize, nil, ttl)}
}

// Refresh implements Coordinator.
func (c *LocalCoordinator) Refresh(ctx context.Context, key string, fn RefreshFunc) (Grant, error) {
	if g, ok := c.recent.Get(key); ok {
		return g, nil
	}
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		// The shared call outlives any single caller.
		g, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return Grant{}, err
		}
		c.recent.Add(key, g)
		return g, nil
	})
	select {
	case <-ctx.Done():
		return Grant{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Grant{}, res.Err
		}
		return res.Val.(Grant), nil
	}
}

// RedisOptions tunes a RedisCoordinator. Zero values use defaults.
type RedisOptions struct {
	Prefix   string
	LockTTL  time.Duration
	GrantTTL time.Duration
	// Wait bounds how long a request waits on another instance's refresh.
	Wait time.Duration
	Poll time.Duration
}

// RedisCoordinator extends LocalCoordinator across instances: a SET NX lock
// elects the instance that spends the refresh token and the rotated grant is
// published for the others.
type RedisCoordinator struct {
	client *redis.Client
	local  *LocalCoordinator
	opts   RedisOptions
	logger *slog.Logger
}

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisCoordinator constructs a RedisCoordinator.
func NewRedisCoordinator(client *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisCoordinator {
	if opts.Prefix == "" {
		opts.Prefix = "console:refresh:"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = defaultGrantTTL
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCoordinator{client: client, local: NewLocalCoordinator(opts.GrantTTL), opts: opts, logger: logger}
}

// Refresh implements Coordinator.
func (c *RedisCoordinator) Refresh(ctx context.Context, key string, fn RefreshFunc) (Grant, error) {
	return c.local.Refresh(ctx, key, func(ctx context.Context) (Grant, error) {
		return c.refresh(ctx, key, fn)
	})
}

func (c *RedisCoordinator) refresh(ctx context.Context, key string, fn RefreshFunc) (Grant, error) {
	grantKey := c.opts.Prefix + "grant:" + key
	lockKey := c.opts.Prefix + "lock:" + key

	if g, ok := c.published(ctx, grantKey); ok {
		return g, nil
	}

	token := uuid.NewString()
	acquired, err := c.client.SetNX(ctx, lockKey, token, c.opts.LockTTL).Result()
	if err != nil {
		c.logger.Warn("refresh lock unavailable", slog.Any("error", err))
		return fn(ctx)
	}
	if acquired {
		defer func() {
			if err := releaseLock.Run(ctx, c.client, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				c.logger.Warn("refresh lock release", slog.Any("error", err))
			}
		}()
		g, err := fn(ctx)
		if err != nil {
			return Grant{}, err
		}
		c.publish(ctx, grantKey, g)
		return g, nil
	}

	return c.await(ctx, grantKey, lockKey)
}

func (c *RedisCoordinator) await(ctx context.Context, grantKey, lockKey string) (Grant, error) {
	timer := time.NewTimer(c.opts.Wait)
	defer timer.Stop()
	ticker := time.NewTicker(c.opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		case <-timer.C:
			return Grant{}, ErrRefreshInFlight
		case <-ticker.C:
			if g, ok := c.published(ctx, grantKey); ok {
				return g, nil
			}
			// The holder released the lock without publishing: its refresh failed.
			exists, err := c.client.Exists(ctx, lockKey).Result()
			if err == nil && exists == 0 {
				if g, ok := c.published(ctx, grantKey); ok {
					return g, nil
				}
				return Grant{}, fmt.Errorf("%w: holder gave up", ErrRefreshInFlight)
			}
		}
	}
}

func (c *RedisCoordinator) published(ctx context.Context, grantKey string) (Grant, bool) {
	raw, err := c.client.Get(ctx, grantKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("refresh grant lookup", slog.Any("error", err))
		}
		return Grant{}, false
	}
	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil || g.AccessToken == "" {
		return Grant{}, false
	}
	return g, true
}

func (c *RedisCoordinator) publish(ctx context.Context, grantKey string, g Grant) {
	raw, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, grantKey, raw, c.opts.GrantTTL).Err(); err != nil {
		c.logger.Warn("refresh grant publish", slog.Any("error", err))
	}
}
