package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/rollout-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 60 * time.Second

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lock.PollerLock = (*RedisPollerLock)(nil)

// RedisPollerLock holds one lease per batch so only a single reconciler polls a
// given batch, even with multiple service replicas.
type RedisPollerLock struct {
	client *goredis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisPollerLock(client *goredis.Client, ttl time.Duration) (*RedisPollerLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisPollerLock{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}, nil
}

func (l *RedisPollerLock) Acquire(ctx context.Context, batchID string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("poller lock is not initialized")
	}
	key, err := lockKey(batchID)
	if err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire poller lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[batchID] = token
	l.mu.Unlock()

	return true, nil
}

func (l *RedisPollerLock) Refresh(ctx context.Context, batchID string) error {
	key, token, err := l.ownedKey(batchID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	extended, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh poller lock: %w", err)
	}
	if extended == 0 {
		return fmt.Errorf("poller lock for batch %s is no longer held", batchID)
	}
	return nil
}

func (l *RedisPollerLock) Release(ctx context.Context, batchID string) error {
	key, token, err := l.ownedKey(batchID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	delete(l.tokens, batchID)
	l.mu.Unlock()

	if _, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int(); err != nil {
		return fmt.Errorf("failed to release poller lock: %w", err)
	}
	return nil
}

func (l *RedisPollerLock) ownedKey(batchID string) (string, string, error) {
	if l == nil || l.client == nil {
		return "", "", fmt.Errorf("poller lock is not initialized")
	}
	key, err := lockKey(batchID)
	if err != nil {
		return "", "", err
	}

	l.mu.Lock()
	token, held := l.tokens[batchID]
	l.mu.Unlock()
	if !held {
		return "", "", fmt.Errorf("poller lock for batch %s is not held by this instance", batchID)
	}

	return key, token, nil
}

func lockKey(batchID string) (string, error) {
	trimmed := strings.TrimSpace(batchID)
	if trimmed == "" {
		return "", fmt.Errorf("batch id is required")
	}
	return fmt.Sprintf("poller:%s", trimmed), nil
}
