// Package inflight serializes mutations per entity id.
//
// At most one mutation per id may be outstanding. A second attempt while
// the first is in flight is rejected with ErrBusy rather than queued, so
// two rapid toggles cannot land out of order.
package inflight

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a mutation for the same id is already running.
var ErrBusy = errors.New("another change to this record is still in flight")

// Guard tracks ids with an outstanding mutation.
type Guard struct {
	mu      sync.Mutex
	pending map[string]uint64
	next    uint64
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{pending: make(map[string]uint64)}
}

// Acquire marks id as busy. The returned release func must be called
// exactly once when the mutation completes; extra calls are ignored.
func (g *Guard) Acquire(id string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.pending[id]; busy {
		return nil, ErrBusy
	}
	g.next++
	token := g.next
	g.pending[id] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.pending[id] == token {
				delete(g.pending, id)
			}
			g.mu.Unlock()
		})
	}, nil
}

// Do runs fn while holding id.
func (g *Guard) Do(id string, fn func() error) error {
	release, err := g.Acquire(id)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (g *Guard) busy(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}

// Len returns the number of outstanding mutations.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
