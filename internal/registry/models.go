// Package registry tracks the models the upstream endpoint can serve.
// Static definitions provide a working default set, and an optional remote
// catalog can refresh them at runtime.
package registry

import (
	"sort"
	"sync"
)

// ModelInfo describes one model exposed through the /v1/models surface.
type ModelInfo struct {
	ID                  string `json:"id"`
	Object              string `json:"object"`
	Created             int64  `json:"created"`
	OwnedBy             string `json:"owned_by"`
	DisplayName         string `json:"display_name,omitempty"`
	Description         string `json:"description,omitempty"`
	ContextLength       int    `json:"context_length,omitempty"`
	MaxCompletionTokens int    `json:"max_completion_tokens,omitempty"`
}

// DefaultModels returns the built-in definitions used when no remote catalog
// is configured or the catalog has not been fetched yet.
func DefaultModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:                  "solo-1",
			Object:              "model",
			Created:             1735689600, // 2025-01-01
			OwnedBy:             "monoturn",
			DisplayName:         "Solo 1",
			Description:         "General purpose single-turn completion model",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
		},
		{
			ID:                  "solo-1-mini",
			Object:              "model",
			Created:             1735689600,
			OwnedBy:             "monoturn",
			DisplayName:         "Solo 1 Mini",
			Description:         "Smaller, faster variant for short envelopes",
			ContextLength:       128000,
			MaxCompletionTokens: 32000,
		},
	}
}

// ModelRegistry holds the current model set keyed by ID. Safe for
// concurrent use.
type ModelRegistry struct {
	mutex  sync.RWMutex
	models map[string]*ModelInfo
}

// NewModelRegistry returns a registry seeded with the given models. Nil
// entries and entries with empty IDs are skipped.
func NewModelRegistry(models []*ModelInfo) *ModelRegistry {
	r := &ModelRegistry{models: make(map[string]*ModelInfo)}
	r.Replace(models)
	return r
}

// Replace swaps the full model set. Later entries with duplicate IDs win.
func (r *ModelRegistry) Replace(models []*ModelInfo) {
	next := make(map[string]*ModelInfo, len(models))
	for _, m := range models {
		if m == nil || m.ID == "" {
			continue
		}
		copied := *m
		if copied.Object == "" {
			copied.Object = "model"
		}
		next[copied.ID] = &copied
	}
	r.mutex.Lock()
	r.models = next
	r.mutex.Unlock()
}

// Lookup returns the model with the given ID, or nil.
func (r *ModelRegistry) Lookup(id string) *ModelInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// List returns all models sorted by ID.
func (r *ModelRegistry) List() []*ModelInfo {
	r.mutex.RLock()
	out := make([]*ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		copied := *m
		out = append(out, &copied)
	}
	r.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of registered models.
func (r *ModelRegistry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.models)
}
