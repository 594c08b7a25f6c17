package facade

import (
	"sync"

	"github.com/tombee/conduit/internal/registry"
)

// Set lazily builds and caches one Facade per registered connector
// instance. All transports share a single Set so an instance has exactly
// one breaker and one view of the cache no matter which front end a
// request arrives on.
type Set struct {
	registry *registry.Registry
	cfg      Config

	mu      sync.RWMutex
	facades map[string]*Facade
}

// NewSet creates a facade set over the given registry.
func NewSet(reg *registry.Registry, cfg Config) *Set {
	return &Set{
		registry: reg,
		cfg:      cfg,
		facades:  make(map[string]*Facade),
	}
}

// Get returns the facade for an instance id, creating it on first use.
// Unknown ids surface the registry's ConnectorNotFound error.
func (s *Set) Get(id string) (*Facade, error) {
	s.mu.RLock()
	f, ok := s.facades[id]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}

	inst, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.facades[id]; ok {
		return f, nil
	}
	f = New(id, inst.Impl, s.cfg)
	s.facades[id] = f
	return f, nil
}

// Prime builds facades for every instance currently registered.
// Instances registered later are still picked up lazily by Get.
func (s *Set) Prime() {
	for _, id := range s.registry.IDs() {
		// Ids come from the registry itself, so Get cannot miss.
		_, _ = s.Get(id)
	}
}

// IDs returns the currently registered instance ids in sorted order.
func (s *Set) IDs() []string {
	return s.registry.IDs()
}
