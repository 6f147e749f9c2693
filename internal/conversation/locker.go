package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// SessionLocker serializes turns for one session. Lock blocks until the
// session is free or ctx is done; the returned func releases it and is safe
// to call more than once.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (func(), error)
}

// LocalLocker serializes turns inside a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.release(sessionID, lk)
			})
		}, nil
	case <-ctx.Done():
		l.release(sessionID, lk)
		return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

func (l *LocalLocker) release(sessionID string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, sessionID)
	}
}

const (
	defaultLockTTL  = 2 * time.Minute
	defaultLockPoll = 50 * time.Millisecond
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes turns across processes sharing a Redis instance.
// The TTL bounds how long a crashed holder can block a session.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *logging.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, poll: defaultLockPoll, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := lockKey(sessionID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("conversation: acquire session lock: %w", err)
		}
		if acquired {
			var once sync.Once
			return func() {
				once.Do(func() { l.unlock(key, token, sessionID) })
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlock(key, token, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseLockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release session lock", "session_id", sessionID, "error", err)
	}
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("leadflow:lock:session:%s", sessionID)
}
