package allocation

import (
	"sync"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/katecvn/backoffice/internal/domain/shared"
)

// ErrSessionNotFound is returned for unknown, expired or foreign sessions
var ErrSessionNotFound = shared.NewDomainError("NOT_FOUND", "Allocation session not found")

// sessionEntry pairs a session with the mutex serializing access to it
type sessionEntry struct {
	mu      sync.Mutex
	session *allocation.Session
}

// Registry keeps open allocation sessions in memory and evicts those idle
// for longer than the configured TTL.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*sessionEntry
	ttl       time.Duration
	interval  time.Duration
	onEvict   func(*allocation.Session)
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its janitor
func NewRegistry(ttl, interval time.Duration, onEvict func(*allocation.Session)) *Registry {
	if interval <= 0 {
		interval = time.Minute
	}
	r := &Registry{
		entries:  make(map[string]*sessionEntry),
		ttl:      ttl,
		interval: interval,
		onEvict:  onEvict,
		stopChan: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.janitor()

	return r
}

// Put registers a session
func (r *Registry) Put(s *allocation.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID()] = &sessionEntry{session: s}
}

// get returns the entry for a session owned by ownerID
func (r *Registry) get(id, ownerID string) (*sessionEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok || e.session.OwnerID() != ownerID {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Remove drops a session from the registry
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the janitor. Safe to call multiple times.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
	})
	return nil
}

func (r *Registry) janitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.evictIdle(time.Now())
		}
	}
}

// evictIdle closes and removes sessions untouched since now-ttl. Sessions
// with a commit in flight are kept until it finishes.
func (r *Registry) evictIdle(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	var evicted []*allocation.Session
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		s := e.session
		if s.State() != allocation.StateSubmitting && now.Sub(s.TouchedAt()) > r.ttl {
			s.Close()
			delete(r.entries, id)
			evicted = append(evicted, s)
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, s := range evicted {
			r.onEvict(s)
		}
	}
	return len(evicted)
}
