// Package registry refcounts shared per-room resources. The first Acquire
// for a key builds the resource; the last Release tears it down. Used for the
// per-room coordinator/aggregator pair, which must exist exactly once no
// matter how many sockets a room has open.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Builder constructs the resource on first acquire.
type Builder[T any] func(key string) (T, error)

// Teardown runs when the last handle is released.
type Teardown[T any] func(key string, value T)

type entry[T any] struct {
	value T
	refs  int
}

// Registry tracks refcounted resources keyed by string.
type Registry[T any] struct {
	build    Builder[T]
	teardown Teardown[T]

	mu      sync.Mutex
	entries map[string]*entry[T]
}

func New[T any](build Builder[T], teardown Teardown[T]) *Registry[T] {
	return &Registry[T]{
		build:    build,
		teardown: teardown,
		entries:  make(map[string]*entry[T]),
	}
}

// Handle is one reference to a shared resource. Release is idempotent.
type Handle[T any] struct {
	Value T

	key      string
	registry *Registry[T]
	once     sync.Once
}

// Release drops this reference; the resource is torn down when the count
// reaches zero.
func (h *Handle[T]) Release() {
	h.once.Do(func() {
		h.registry.release(h.key)
	})
}

// Acquire returns a handle on the keyed resource, building it on first use.
func (r *Registry[T]) Acquire(key string) (*Handle[T], error) {
	return r.AcquireOrCreate(key, r.build)
}

// AcquireOrCreate is Acquire with a call-site builder, for resources whose
// construction needs more context than the key.
func (r *Registry[T]) AcquireOrCreate(key string, build Builder[T]) (*Handle[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		value, err := build(key)
		if err != nil {
			return nil, fmt.Errorf("failed to build resource %q: %w", key, err)
		}
		e = &entry[T]{value: value}
		r.entries[key] = e
		log.Debug().Str("key", key).Msg("registry resource created")
	}
	e.refs++
	return &Handle[T]{Value: e.value, key: key, registry: r}, nil
}

// Peek returns the resource if it is live, without taking a reference.
func (r *Registry[T]) Peek(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	e, ok := r.entries[key]
	if !ok {
		return zero, false
	}
	return e.value, true
}

// Len reports how many resources are live.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[T]) release(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	log.Debug().Str("key", key).Msg("registry resource torn down")
	if r.teardown != nil {
		r.teardown(key, e.value)
	}
}
