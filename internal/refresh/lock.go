package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means another fetch of the same lecture is running.
var ErrLocked = errors.New("lecture refresh already running")

// Locker is a named mutual-exclusion lock. Acquire returns ErrLocked when
// name is held; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// RedisLocker takes SET NX PX locks so that refreshes exclude each other
// across processes. Release only deletes a lock it still owns.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:"}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := l.prefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// LocalLocker excludes refreshes within one process. Locks are cache
// items added under their name, so an expired lock can be taken again.
type LocalLocker struct {
	held *gocache.Cache
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	if err := l.held.Add(name, token, ttl); err != nil {
		return nil, ErrLocked
	}
	return func() {
		if current, ok := l.held.Get(name); ok && current == token {
			l.held.Delete(name)
		}
	}, nil
}
