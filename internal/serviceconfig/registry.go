// Package serviceconfig loads and serves orchtypes.ServiceConfig values: the
// per-subscription-service data bundles (starting URL, goal text, and the
// checkpoint/success/failure/auth predicates) that steer the task runner
// without it ever branching on a service's name.
package serviceconfig

import (
	"errors"
	"fmt"
	"sync"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// ErrUnknownService is the sentinel wrapped by Get's ConfigurationError when
// no config is registered under the requested name.
var ErrUnknownService = errors.New("unknown service")

// Registry is a concurrency-safe lookup table of service configs, keyed by
// ServiceConfig.Name.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*orchtypes.ServiceConfig
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*orchtypes.ServiceConfig)}
}

// Register adds cfg to the registry. It fails with a ConfigurationError if
// cfg.Name is empty or already registered.
func (r *Registry) Register(cfg *orchtypes.ServiceConfig) error {
	if cfg == nil || cfg.Name == "" {
		return orcherrors.NewConfigurationError("service config must have a non-empty name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.Name]; exists {
		return orcherrors.NewConfigurationError(
			fmt.Sprintf("service %q is already registered", cfg.Name), nil)
	}
	r.configs[cfg.Name] = cfg
	return nil
}

// Get looks up a registered service config by name. It fails with a
// ConfigurationError wrapping ErrUnknownService when no such config exists.
func (r *Registry) Get(name string) (*orchtypes.ServiceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	if !ok {
		return nil, orcherrors.NewConfigurationError("unknown service: "+name, ErrUnknownService)
	}
	return cfg, nil
}

// List returns the names of all registered services, in no particular
// order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}
