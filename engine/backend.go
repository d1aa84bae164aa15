package engine

import "unitgo/serviceregistry"

// Category is the serviceregistry category engine backends register
// under, matching spec.md §6's "engine" service lookup by name.
const Category = "engine"

const (
	BackendGoroutine = "goroutine"
	BackendPoller    = "poller"
)

// Factory builds a new Engine for a given backend, assigning it the next
// engine id and the requested queue depth/connection ceiling.
type Factory func(cfg Config) (*Engine, error)

// RegisterDefaults registers the "goroutine" and "poller" backends into
// reg under Category, so construction-time backend selection (spec.md
// §4.6 stage 1, "resolve the event-engine service") can look either up by
// name, falling back to the first registered ("goroutine") when the
// caller passes an empty name.
func RegisterDefaults(reg *serviceregistry.Registry) {
	reg.Register(Category, BackendGoroutine, Factory(func(cfg Config) (*Engine, error) {
		return New(cfg), nil
	}))

	reg.Register(Category, BackendPoller, Factory(func(cfg Config) (*Engine, error) {
		e := New(cfg)
		p, err := NewPoller()
		if err != nil {
			// No epoll available (non-Linux): the engine itself still
			// works, it just never gets poller-backed idle reaping.
			return e, nil
		}
		e.poller = p
		return e, nil
	}))
}
