package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps a gateway selector to its adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry and rejects duplicate selectors.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := normalizeName(adapter.Name())
		if name == "" {
			return nil, fmt.Errorf("gateway adapter name is empty")
		}
		if _, exists := r.adapters[name]; exists {
			return nil, fmt.Errorf("gateway adapter %q registered twice", name)
		}
		r.adapters[name] = adapter
	}
	return r, nil
}

// Get returns the adapter for a selector.
func (r *Registry) Get(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[normalizeName(name)]
	return adapter, ok
}

// Names registered selectors, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
