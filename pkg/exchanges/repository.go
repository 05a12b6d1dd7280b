package exchanges

import (
	"errors"
	"sync"
)

// DefaultCapacity is the number of exchanges retained when none is configured.
const DefaultCapacity = 100

// ErrInvalidCapacity is returned for a repository capacity below one.
var ErrInvalidCapacity = errors.New("exchanges: capacity must be positive")

// Repository stores recorded exchanges.
type Repository interface {
	// Add stores a completed exchange.
	Add(e *Exchange)

	// FindAll returns the retained exchanges, most recent first.
	FindAll() []*Exchange
}

// InMemoryRepository keeps the most recent exchanges in a fixed-size ring.
// When full, adding evicts exactly the oldest exchange.
type InMemoryRepository struct {
	mu    sync.Mutex
	ring  []*Exchange
	next  int // slot the next exchange is written to
	count int
}

// NewInMemoryRepository returns a repository retaining at most capacity exchanges.
func NewInMemoryRepository(capacity int) (*InMemoryRepository, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &InMemoryRepository{ring: make([]*Exchange, capacity)}, nil
}

// Add stores e, overwriting the oldest exchange when the repository is full.
func (r *InMemoryRepository) Add(e *Exchange) {
	if e == nil {
		return
	}
	r.mu.Lock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()
}

// FindAll returns a snapshot of the retained exchanges, newest first.
func (r *InMemoryRepository) FindAll() []*Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Exchange, r.count)
	idx := r.next
	for i := 0; i < r.count; i++ {
		idx--
		if idx < 0 {
			idx = len(r.ring) - 1
		}
		out[i] = r.ring[idx]
	}
	return out
}

// Len returns the number of retained exchanges.
func (r *InMemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the fixed capacity of the repository.
func (r *InMemoryRepository) Capacity() int {
	return len(r.ring)
}
