// Package serviceregistry implements the externally supplied (category,
// name) -> implementation lookup the supervisor consumes to resolve
// pluggable backends, notably the "engine" category.
package serviceregistry

import "sync"

// Key identifies a registered service.
type Key struct {
	Category string
	Name     string
}

// Registry is a concurrency-safe (category, name) -> value map.
type Registry struct {
	mu       sync.RWMutex
	services map[Key]any
	// order preserves registration order per category so that Get with
	// an empty name can return "the first one registered", mirroring
	// nxt_service_get(rt->services, "engine", NULL) used before a
	// specific backend has been chosen.
	order map[string][]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		services: make(map[Key]any),
		order:    make(map[string][]string),
	}
}

// Register adds value under (category, name). Re-registering the same key
// overwrites the previous value without disturbing registration order.
func (r *Registry) Register(category, name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Category: category, Name: name}
	if _, exists := r.services[key]; !exists {
		r.order[category] = append(r.order[category], name)
	}
	r.services[key] = value
}

// Get looks up (category, name). When name is empty, it returns the
// first value registered under category, if any.
func (r *Registry) Get(category, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		names := r.order[category]
		if len(names) == 0 {
			return nil, false
		}
		name = names[0]
	}

	v, ok := r.services[Key{Category: category, Name: name}]
	return v, ok
}

// Names returns the registered names for a category, in registration order.
func (r *Registry) Names(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order[category]))
	copy(out, r.order[category])
	return out
}
