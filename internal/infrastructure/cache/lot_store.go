package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/redis/go-redis/v9"
)

// LotStore caches lot lists by product. Each product holds one entry per
// scope, since the upstream may filter lots by the requesting user. Get
// reports a miss with ok=false; Delete drops every scope of a product.
type LotStore interface {
	Get(ctx context.Context, productID, scope string) (lots []allocation.Lot, ok bool, err error)
	Set(ctx context.Context, productID, scope string, lots []allocation.Lot, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

const defaultLotKeyPrefix = "backoffice:lots:"

// redisLotEntry is the JSON value of one hash field
type redisLotEntry struct {
	ExpiresAt time.Time        `json:"expires_at"`
	Lots      []allocation.Lot `json:"lots"`
}

// RedisLotStore keeps one hash per product in Redis, with a JSON field per
// scope. Fields carry their own expiry; the key expires with the newest field.
type RedisLotStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisLotStore creates a store on an existing client. The caller owns the client.
func NewRedisLotStore(client *redis.Client, keyPrefix string) *RedisLotStore {
	if keyPrefix == "" {
		keyPrefix = defaultLotKeyPrefix
	}
	return &RedisLotStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Get implements LotStore. Corrupt and expired fields are removed and
// reported as a miss.
func (s *RedisLotStore) Get(ctx context.Context, productID, scope string) ([]allocation.Lot, bool, error) {
	key := s.keyPrefix + productID
	data, err := s.client.HGet(ctx, key, scope).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get lots from cache: %w", err)
	}

	var entry redisLotEntry
	if err := json.Unmarshal(data, &entry); err != nil || !s.now().Before(entry.ExpiresAt) {
		_ = s.client.HDel(ctx, key, scope)
		return nil, false, nil
	}
	return entry.Lots, true, nil
}

// Set implements LotStore
func (s *RedisLotStore) Set(ctx context.Context, productID, scope string, lots []allocation.Lot, ttl time.Duration) error {
	data, err := json.Marshal(redisLotEntry{ExpiresAt: s.now().Add(ttl), Lots: lots})
	if err != nil {
		return fmt.Errorf("failed to marshal lots: %w", err)
	}

	key := s.keyPrefix + productID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, scope, data)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache lots: %w", err)
	}
	return nil
}

// Delete implements LotStore
func (s *RedisLotStore) Delete(ctx context.Context, productID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+productID).Err(); err != nil {
		return fmt.Errorf("failed to delete cached lots: %w", err)
	}
	return nil
}

// lotEntry is a cached lot list with its expiry
type lotEntry struct {
	lots      []allocation.Lot
	expiresAt time.Time
}

// InMemoryLotStore implements LotStore in process memory, for single-instance
// deployments and tests. A background goroutine drops expired entries.
type InMemoryLotStore struct {
	mu        sync.RWMutex
	entries   map[string]map[string]lotEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewInMemoryLotStore creates a store and starts its cleanup loop
func NewInMemoryLotStore(cleanupInterval time.Duration) *InMemoryLotStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &InMemoryLotStore{
		entries:  make(map[string]map[string]lotEntry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	s.wg.Add(1)
	go s.cleanupLoop(cleanupInterval)

	return s
}

// Get implements LotStore
func (s *InMemoryLotStore) Get(_ context.Context, productID, scope string) ([]allocation.Lot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[productID][scope]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]allocation.Lot, len(e.lots))
	copy(out, e.lots)
	return out, true, nil
}

// Set implements LotStore
func (s *InMemoryLotStore) Set(_ context.Context, productID, scope string, lots []allocation.Lot, ttl time.Duration) error {
	stored := make([]allocation.Lot, len(lots))
	copy(stored, lots)

	s.mu.Lock()
	defer s.mu.Unlock()
	scopes, ok := s.entries[productID]
	if !ok {
		scopes = make(map[string]lotEntry)
		s.entries[productID] = scopes
	}
	scopes[scope] = lotEntry{lots: stored, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete implements LotStore
func (s *InMemoryLotStore) Delete(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, productID)
	return nil
}

// Size returns the number of entries across all scopes, expired ones included
func (s *InMemoryLotStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, scopes := range s.entries {
		n += len(scopes)
	}
	return n
}

// Close stops the cleanup loop. Safe to call multiple times.
func (s *InMemoryLotStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryLotStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryLotStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for productID, scopes := range s.entries {
		for scope, e := range scopes {
			if !now.Before(e.expiresAt) {
				delete(scopes, scope)
			}
		}
		if len(scopes) == 0 {
			delete(s.entries, productID)
		}
	}
}

var (
	_ LotStore = (*RedisLotStore)(nil)
	_ LotStore = (*InMemoryLotStore)(nil)
)
