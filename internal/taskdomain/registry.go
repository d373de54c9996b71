package taskdomain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// Registry is a thread-safe set of named domain models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// DefaultRegistry returns a registry holding the built-in domains.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Built-ins are validated by their tests; a failure here is a programming error.
	for _, m := range []*Model{NDADomain(), TravelDomain()} {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Register validates and adds a model. Returns ErrDuplicateDomain if a model
// with the same name is already registered.
func (r *Registry) Register(m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.Name]; exists {
		return domain.NewEngineError(domain.ErrDuplicateDomain.Code,
			fmt.Sprintf("%s: %q", domain.ErrDuplicateDomain.Message, m.Name))
	}
	r.models[m.Name] = m
	return nil
}

// Get returns the named model, or ErrUnknownDomain.
func (r *Registry) Get(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrUnknownDomain.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownDomain.Message, name))
	}
	return m, nil
}

// List returns all registered domain names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
