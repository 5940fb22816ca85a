package target

import (
	"fmt"
	"sync"
	"time"
)

// Registry manages the collection of loaded targets
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

// NewRegistry creates a new target registry
func NewRegistry(targets map[string]*Target) *Registry {
	return &Registry{
		targets: targets,
	}
}

// Get retrieves a target by name
func (r *Registry) Get(name string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, exists := r.targets[name]
	if !exists {
		return nil, fmt.Errorf("target '%s' not found", name)
	}

	return target, nil
}

// List returns all target names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}

	return names
}

// Count returns the number of targets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.targets)
}

// Resolver produces immutable DeploymentSpecs from the registry,
// loading the credential material at invocation time.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver backed by a registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns a fully populated DeploymentSpec for the named
// target, or a ConfigError. It has no side effects beyond reading the
// credential source and performs no network activity.
func (r *Resolver) Resolve(name string) (*DeploymentSpec, error) {
	t, err := r.registry.Get(name)
	if err != nil {
		return nil, &ConfigError{Target: name, Problems: []string{fmt.Sprintf("  - %v", err)}}
	}

	cred, err := loadCredential(t.Credential)
	if err != nil {
		return nil, &ConfigError{Target: name, Problems: []string{fmt.Sprintf("  - credential: %v", err)}}
	}

	return &DeploymentSpec{
		Target:     t,
		Credential: cred,
		Commands:   t.Commands(),
		ResolvedAt: time.Now(),
	}, nil
}
