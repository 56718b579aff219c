package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Locker serializes enrichments of the same organization.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker never blocks.
type NoopLocker struct{}

// Lock implements Locker.
func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// MemoryLocker is a keyed mutex for a single gateway process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// Lock implements Locker. It blocks until key is free or ctx is done.
func (m *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				m.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, kl)
		return nil, eris.Wrapf(ctx.Err(), "dispatch: wait for lock %s", key)
	}
}

func (m *MemoryLocker) release(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based lock shared by gateway replicas. The TTL
// bounds how long a crashed holder can block others.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisLocker creates a RedisLocker with the given lease TTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		poll:   100 * time.Millisecond,
		prefix: "enricher:lock:",
		log:    log,
	}
}

// Lock implements Locker.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, rkey, token, r.ttl).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "dispatch: acquire redis lock %s", key)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "dispatch: wait for lock %s", key)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the request context is already canceled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{rkey}, token).Err(); err != nil {
				r.log.Warn("dispatch: release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
