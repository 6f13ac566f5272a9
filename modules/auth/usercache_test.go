package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/store"
)

// TestConfig for redis tests - requires Redis running on localhost:6379
const testRedisAddr = "localhost:6379"

// memoryCache is an in-process UserCache for testing.
type memoryCache struct {
	mu    sync.Mutex
	users map[uint]helpdesk.User
}

func newMemoryCache() *memoryCache {
	return &memoryCache{users: make(map[uint]helpdesk.User)}
}

func (c *memoryCache) Get(_ context.Context, id uint) (*helpdesk.User, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return nil, false, nil
	}
	return &u, true, nil
}

func (c *memoryCache) Set(_ context.Context, user *helpdesk.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[user.ID] = *user
	return nil
}

func (c *memoryCache) Delete(_ context.Context, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, id)
	return nil
}

func TestUserLookup_ReadsThroughAndCachesActive(t *testing.T) {
	ctx := context.Background()
	finder := newFakeFinder(helpdesk.User{ID: 1, Name: "Alice", IsActive: true})
	cache := newMemoryCache()
	lookup := NewUserLookup(finder, cache, newMockLogger())

	first, err := lookup.FindUserByIdentity(ctx, 1)
	require.NoError(t, err)
	second, err := lookup.FindUserByIdentity(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, "Alice", first.Name)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), finder.calls.Load(), "every lookup reads the store")
	cached, found, _ := cache.Get(ctx, 1)
	require.True(t, found)
	assert.Equal(t, "Alice", cached.Name)
}

func TestUserLookup_DeactivationAfterCaching(t *testing.T) {
	ctx := context.Background()
	finder := newFakeFinder(helpdesk.User{ID: 1, Name: "Alice", Email: "alice@example.com", IsActive: true})
	cache := newMemoryCache()
	authenticator := NewAuthenticator(NewJWTManager(testJWTConfig()), NewUserLookup(finder, cache, newMockLogger()))

	token, err := NewJWTManager(testJWTConfig()).GenerateAccessToken(1, "alice@example.com")
	require.NoError(t, err)

	_, err = authenticator.Authenticate(ctx, token)
	require.NoError(t, err)
	_, found, _ := cache.Get(ctx, 1)
	require.True(t, found)

	finder.mu.Lock()
	finder.users[1] = helpdesk.User{ID: 1, Name: "Alice", Email: "alice@example.com", IsActive: false}
	finder.mu.Unlock()

	_, err = authenticator.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUserDeactivated)
	_, found, _ = cache.Get(ctx, 1)
	assert.False(t, found, "deactivated user is evicted")
}

func TestUserLookup_FallsBackToCacheWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	finder := newFakeFinder(helpdesk.User{ID: 1, Name: "Alice", IsActive: true})
	cache := newMemoryCache()
	lookup := NewUserLookup(finder, cache, newMockLogger())

	_, err := lookup.FindUserByIdentity(ctx, 1)
	require.NoError(t, err)

	finder.mu.Lock()
	finder.err = errors.New("database is locked")
	finder.mu.Unlock()

	user, err := lookup.FindUserByIdentity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	_, err = lookup.FindUserByIdentity(ctx, 2)
	assert.EqualError(t, err, "database is locked")
}

func TestUserLookup_NotFoundEvicts(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	require.NoError(t, cache.Set(ctx, &helpdesk.User{ID: 9, Name: "Gone", IsActive: true}))
	lookup := NewUserLookup(newFakeFinder(), cache, newMockLogger())

	_, err := lookup.FindUserByIdentity(ctx, 9)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, found, _ := cache.Get(ctx, 9)
	assert.False(t, found)
}

func TestUserLookup_DoesNotCacheDeactivated(t *testing.T) {
	ctx := context.Background()
	finder := newFakeFinder(helpdesk.User{ID: 2, Name: "Bob", IsActive: false})
	cache := newMemoryCache()
	lookup := NewUserLookup(finder, cache, newMockLogger())

	for i := 0; i < 2; i++ {
		user, err := lookup.FindUserByIdentity(ctx, 2)
		require.NoError(t, err)
		assert.False(t, user.IsActive)
	}
	assert.Equal(t, int32(2), finder.calls.Load())
	_, found, _ := cache.Get(ctx, 2)
	assert.False(t, found)
}

func TestUserLookup_NotFound(t *testing.T) {
	lookup := NewUserLookup(newFakeFinder(), nil, newMockLogger())

	_, err := lookup.FindUserByIdentity(context.Background(), 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUserLookup_CollapsesConcurrentMisses(t *testing.T) {
	finder := newFakeFinder(helpdesk.User{ID: 1, Name: "Alice", IsActive: true})
	finder.gate = make(chan struct{})
	lookup := NewUserLookup(finder, nil, newMockLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *helpdesk.User, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := lookup.FindUserByIdentity(context.Background(), 1)
			if err == nil {
				results <- user
			}
		}()
	}

	require.Eventually(t, func() bool { return finder.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight lookup.
	time.Sleep(100 * time.Millisecond)
	close(finder.gate)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), finder.calls.Load())
	count := 0
	for user := range results {
		assert.Equal(t, "Alice", user.Name)
		count++
	}
	assert.Equal(t, callers, count)
}

func TestRedisUserCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	defer client.Close()

	cache := NewRedisUserCache(client, "test:helpdesk:user:", time.Minute)
	defer cache.Delete(ctx, 77)

	_, found, err := cache.Get(ctx, 77)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, &helpdesk.User{ID: 77, Name: "Cached", Email: "c@example.com", IsActive: true}))

	user, found, err := cache.Get(ctx, 77)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Cached", user.Name)

	require.NoError(t, cache.Delete(ctx, 77))
	_, found, err = cache.Get(ctx, 77)
	require.NoError(t, err)
	assert.False(t, found)
}
