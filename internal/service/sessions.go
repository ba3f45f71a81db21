package service

import (
	"log"
	"sync"
	"time"

	"freshcart/backend/internal/cartstate"
	"freshcart/backend/internal/domain"
)

// Session identifies one cart owner. Guest sessions carry the KV session id;
// authenticated sessions carry the upstream bearer token.
type Session struct {
	Key     string
	Guest   bool
	GuestID string
	Token   string
}

// sessionEntry serializes cart operations per session. Concurrent requests
// for the same session run one at a time so a slow remove cannot land after
// a later add and clobber it.
type sessionEntry struct {
	mu       sync.Mutex
	state    *cartstate.Store
	lastSeen time.Time
}

type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: map[string]*sessionEntry{}}
}

func (r *sessionRegistry) acquire(key string) *sessionEntry {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &sessionEntry{state: cartstate.New()}
		entry.state.Subscribe(func(state domain.CartState) {
			log.Printf("[session] cart updated session=%s items=%d total_cents=%d",
				key, state.Totals.TotalItems, state.Totals.FinalTotalCents)
		})
		r.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	r.mu.Unlock()

	entry.mu.Lock()
	return entry
}

// evictIdle drops per-session state not touched within maxIdle. Guest cart
// contents survive eviction: they live in the KV store, not here.
func (r *sessionRegistry) evictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, key)
			evicted++
		}
	}
	return evicted
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
