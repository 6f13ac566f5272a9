package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/store"
)

// UserFinder resolves a user identity to its stored record.
type UserFinder interface {
	FindUserByIdentity(ctx context.Context, id uint) (*helpdesk.User, error)
}

// UserCache is a best-effort cache of active users.
type UserCache interface {
	Get(ctx context.Context, id uint) (*helpdesk.User, bool, error)
	Set(ctx context.Context, user *helpdesk.User) error
	Delete(ctx context.Context, id uint) error
}

// RedisUserCache caches users in redis as JSON.
type RedisUserCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisUserCache creates a redis-backed user cache.
func NewRedisUserCache(client *redis.Client, prefix string, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisUserCache) key(id uint) string {
	return c.prefix + strconv.FormatUint(uint64(id), 10)
}

// Get returns the cached user and whether it was found.
func (c *RedisUserCache) Get(ctx context.Context, id uint) (*helpdesk.User, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var user helpdesk.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	return &user, true, nil
}

// Set stores the user with the cache TTL.
func (c *RedisUserCache) Set(ctx context.Context, user *helpdesk.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.key(user.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// Delete evicts the user.
func (c *RedisUserCache) Delete(ctx context.Context, id uint) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// UserLookup resolves users for the handshake. The store is always read so
// deactivation takes effect on the next handshake; concurrent reads of the
// same user share one store call. The cache holds the last active record of
// each user and answers only while the store is unreachable.
type UserLookup struct {
	finder UserFinder
	cache  UserCache
	group  singleflight.Group
	logger types.Logger
}

// NewUserLookup wraps finder. cache may be nil.
func NewUserLookup(finder UserFinder, cache UserCache, logger types.Logger) *UserLookup {
	return &UserLookup{finder: finder, cache: cache, logger: logger}
}

// FindUserByIdentity returns the stored user. Inactive and missing users are
// evicted from the cache.
func (l *UserLookup) FindUserByIdentity(ctx context.Context, id uint) (*helpdesk.User, error) {
	v, err, _ := l.group.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		user, err := l.finder.FindUserByIdentity(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			l.evict(ctx, id)
			return nil, err
		case err != nil:
			return l.fallback(ctx, id, err)
		}

		if l.cache != nil {
			if user.IsActive {
				if err := l.cache.Set(ctx, user); err != nil {
					l.logger.Warn("User cache write failed", "userID", id, "error", err)
				}
			} else {
				l.evict(ctx, id)
			}
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	user := *v.(*helpdesk.User)
	return &user, nil
}

// fallback serves the cached record when the store read failed. Without one
// the store error is returned.
func (l *UserLookup) fallback(ctx context.Context, id uint, storeErr error) (*helpdesk.User, error) {
	if l.cache == nil {
		return nil, storeErr
	}
	cached, found, err := l.cache.Get(ctx, id)
	if err != nil {
		l.logger.Warn("User cache read failed", "userID", id, "error", err)
	}
	if !found {
		return nil, storeErr
	}
	l.logger.Warn("User store unavailable, using cached user", "userID", id, "error", storeErr)
	return cached, nil
}

func (l *UserLookup) evict(ctx context.Context, id uint) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Delete(ctx, id); err != nil {
		l.logger.Warn("User cache delete failed", "userID", id, "error", err)
	}
}
