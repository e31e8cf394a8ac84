// Package provider adapts the collapsed request for the upstream wire
// dialect. Adapters register themselves by dialect name and the server
// resolves one per upstream configuration.
package provider

import (
	"sync"
)

// Dialect names an upstream wire format.
type Dialect string

const (
	// DialectChat is an OpenAI style chat completion endpoint.
	DialectChat Dialect = "chat"
	// DialectPrompt is a bare text completion endpoint taking one prompt
	// string.
	DialectPrompt Dialect = "prompt"
)

// Adapter converts a collapsed chat request into the upstream body and reads
// the completion text back out of the upstream response.
type Adapter struct {
	// BuildRequest rewrites the collapsed request body for the upstream,
	// overriding the model when one is configured.
	BuildRequest func(model string, collapsed []byte) ([]byte, error)

	// ExtractText pulls the completion text out of the upstream response.
	ExtractText func(response []byte) (string, error)
}

// Registry maps dialect names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Dialect]Adapter
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Dialect]Adapter)}
}

// Register stores an adapter for a dialect, replacing any existing one.
func (r *Registry) Register(dialect Dialect, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[dialect] = adapter
}

// Lookup returns the adapter for a dialect. Unknown dialects fall back to
// the chat adapter.
func (r *Registry) Lookup(dialect Dialect) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if adapter, ok := r.adapters[dialect]; ok {
		return adapter, true
	}
	adapter, ok := r.adapters[DialectChat]
	return adapter, ok
}

var defaultRegistry = NewRegistry()

// Default exposes the package-level registry for shared use.
func Default() *Registry {
	return defaultRegistry
}

// Register attaches an adapter to the default registry.
func Register(dialect Dialect, adapter Adapter) {
	defaultRegistry.Register(dialect, adapter)
}

// Lookup resolves a dialect on the default registry.
func Lookup(dialect Dialect) (Adapter, bool) {
	return defaultRegistry.Lookup(dialect)
}
