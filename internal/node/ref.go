package node

import (
	"sync"
	"sync/atomic"
	"weak"
)

// slot is the graph's strong holder for one entry. References elsewhere in
// the graph point at the slot weakly.
type slot[T any] struct {
	value T
	gone  atomic.Bool
}

// Ref is a non-owning reference to a graph entry.
//
// A Ref expires when the entry is removed from its graph or the graph is
// dropped. Holders must call Get for every use and treat a false result as
// "skip", never as an error.
type Ref[T any] struct {
	id string
	p  weak.Pointer[slot[T]]
}

// ID returns the referenced identifier, even after expiry.
func (r Ref[T]) ID() string { return r.id }

// Get returns the referenced value while it is still owned by the graph.
func (r Ref[T]) Get() (T, bool) {
	s := r.p.Value()
	if s == nil || s.gone.Load() {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Expired reports whether the reference can no longer be resolved.
func (r Ref[T]) Expired() bool {
	_, ok := r.Get()
	return !ok
}

type identified interface {
	ID() string
}

// collection is an insertion-ordered, independently locked id → entry map.
type collection[T identified] struct {
	mu    sync.RWMutex
	order []string
	items map[string]*slot[T]
}

func newCollection[T identified]() *collection[T] {
	return &collection[T]{items: make(map[string]*slot[T])}
}

// add inserts v unless its id is taken.
func (c *collection[T]) add(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := v.ID()
	if _, exists := c.items[id]; exists {
		return false
	}
	c.items[id] = &slot[T]{value: v}
	c.order = append(c.order, id)
	return true
}

func (c *collection[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

func (c *collection[T]) ref(id string) (Ref[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.items[id]
	if !ok {
		return Ref[T]{id: id}, false
	}
	return Ref[T]{id: id, p: weak.Make(s)}, true
}

// remove deletes the entry and expires every Ref to it.
func (c *collection[T]) remove(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	s.gone.Store(true)
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return s.value, true
}

// list returns the entries in insertion order.
func (c *collection[T]) list() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id].value)
	}
	return out
}

func (c *collection[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// drain removes every entry, newest first, expiring all references.
func (c *collection[T]) drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]T, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		s := c.items[c.order[i]]
		s.gone.Store(true)
		out = append(out, s.value)
	}
	c.items = make(map[string]*slot[T])
	c.order = nil
	return out
}
