package tracker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory creates a configured RemoteClient.
type Factory func(cfg Config) (RemoteClient, error)

// Registry maps tracker kinds (the tracker.kind setting) to client
// factories. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry. Adapters call it from
// init; registering the same kind twice panics.
func Register(kind string, factory Factory) {
	defaultRegistry.Register(kind, factory)
}

// Get returns the default registry's factory for kind, or nil.
func Get(kind string) Factory {
	return defaultRegistry.Get(kind)
}

// List returns the kinds in the default registry, sorted.
func List() []string {
	return defaultRegistry.List()
}

// New builds a client of the given kind from the default registry.
func New(kind string, cfg Config) (RemoteClient, error) {
	return defaultRegistry.New(kind, cfg)
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// Register adds a factory. It panics on a nil factory or a kind that is
// already registered.
func (r *Registry) Register(kind string, factory Factory) {
	kind = normalizeKind(kind)
	if factory == nil {
		panic("tracker: Register factory is nil for " + kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[kind]; dup {
		panic("tracker: Register called twice for " + kind)
	}
	r.factories[kind] = factory
}

// Get returns the factory for kind, or nil.
func (r *Registry) Get(kind string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[normalizeKind(kind)]
}

// IsRegistered reports whether kind has a factory.
func (r *Registry) IsRegistered(kind string) bool {
	return r.Get(kind) != nil
}

// List returns the registered kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()
	sort.Strings(kinds)
	return kinds
}

// New fills empty cfg fields from the environment and builds a client of
// the given kind.
func (r *Registry) New(kind string, cfg Config) (RemoteClient, error) {
	factory := r.Get(kind)
	if factory == nil {
		return nil, fmt.Errorf("unknown tracker kind %q (available: %s)", kind, strings.Join(r.List(), ", "))
	}
	client, err := factory(cfg.FromEnv())
	if err != nil {
		return nil, fmt.Errorf("tracker %s: %w", normalizeKind(kind), err)
	}
	if client == nil {
		return nil, fmt.Errorf("tracker %s: factory returned no client", normalizeKind(kind))
	}
	return client, nil
}
