// Package registry provides a minimal concurrency-safe name-to-item map,
// used by the fleet to track open knowledge server sessions.
package registry

import (
	"fmt"
	"sync"
)

// BaseRegistry maps unique names to items of one type. The zero value is not
// usable; construct with NewBaseRegistry.
type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{items: make(map[string]T)}
}

// Register adds an item under a name. Empty and already-taken names are
// rejected.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("item with name '%s' already registered", name)
	}
	r.items[name] = item
	return nil
}

// Get returns the item registered under name.
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

// Names returns the registered names in no particular order.
func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	return names
}

// Items returns a snapshot copy of the registered items keyed by name.
func (r *BaseRegistry[T]) Items() map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make(map[string]T, len(r.items))
	for name, item := range r.items {
		items[name] = item
	}
	return items
}

// Count returns the number of registered items.
func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear removes every item.
func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
}
