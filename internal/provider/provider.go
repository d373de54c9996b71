// Package provider runs external interpreter and generator processes that
// speak a JSON-line protocol over stdin and stdout.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// Spec describes how to launch a component process.
type Spec struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Registry is a thread-safe set of component specs keyed by name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a spec. Names must be unique and commands non-empty.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.Command == "" {
		return domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			"provider needs a name and a command")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %q already registered", spec.Name))
	}
	r.specs[spec.Name] = spec
	return nil
}

// Get returns the named spec, or ErrProviderUnavailable.
func (r *Registry) Get(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %q is not registered", name))
	}
	return spec, nil
}

// List returns registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
