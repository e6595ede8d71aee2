package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "backoffice:lock:"

// RedisSubmitGuard serializes allocation commits across replicas with a
// Redis lock. Locks are not retried: a held key means another commit for the
// same detail line is in flight.
type RedisSubmitGuard struct {
	locker *redislock.Client
	prefix string
}

// NewRedisSubmitGuard creates a guard on an existing client
func NewRedisSubmitGuard(client *redis.Client) *RedisSubmitGuard {
	return &RedisSubmitGuard{locker: redislock.New(client), prefix: defaultLockPrefix}
}

// Acquire obtains the lock for key or fails with allocation.ErrSubmitInProgress
func (g *RedisSubmitGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := g.locker.Obtain(ctx, g.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, allocation.ErrSubmitInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain submit lock: %w", err)
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// expired while the commit ran
			return nil
		}
		return err
	}, nil
}

// InMemorySubmitGuard is the single-process SubmitGuard
type InMemorySubmitGuard struct {
	mu    sync.Mutex
	held  map[string]heldLock
	seq   uint64
	clock func() time.Time
}

type heldLock struct {
	token     uint64
	expiresAt time.Time
}

// NewInMemorySubmitGuard creates an in-process guard
func NewInMemorySubmitGuard() *InMemorySubmitGuard {
	return &InMemorySubmitGuard{held: make(map[string]heldLock), clock: time.Now}
}

// Acquire takes key until release is called or ttl elapses
func (g *InMemorySubmitGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if h, ok := g.held[key]; ok && now.Before(h.expiresAt) {
		return nil, allocation.ErrSubmitInProgress
	}

	g.seq++
	token := g.seq
	g.held[key] = heldLock{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		// a later holder may own the key after expiry
		if h, ok := g.held[key]; ok && h.token == token {
			delete(g.held, key)
		}
		return nil
	}, nil
}

var (
	_ appallocation.SubmitGuard = (*RedisSubmitGuard)(nil)
	_ appallocation.SubmitGuard = (*InMemorySubmitGuard)(nil)
)
