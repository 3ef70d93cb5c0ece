package model

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type registryEntry struct {
	descriptor ModelDescriptor
	adapter    ResilientAdapter
}

// Registry owns every registered model's descriptor and adapter instance.
// Adapters handed out by Get are borrowed references; callers must never
// close or replace them. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	log     zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
		log:     log.With().Str("component", "model-registry").Logger(),
	}
}

// Register stores the descriptor and its adapter under descriptor.ID.
func (r *Registry) Register(descriptor ModelDescriptor, adapter ResilientAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[descriptor.ID]; exists {
		return &DuplicateModelError{ID: descriptor.ID}
	}

	if descriptor.RegisteredAt.IsZero() {
		descriptor.RegisteredAt = time.Now().UTC()
	}
	r.entries[descriptor.ID] = registryEntry{descriptor: descriptor, adapter: adapter}

	r.log.Info().
		Str("model_id", descriptor.ID).
		Str("provider", string(descriptor.Provider)).
		Str("upstream", descriptor.UpstreamName).
		Msg("model registered")
	return nil
}

// Deregister removes the model and releases the registry's reference to its
// adapter.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		return &NotFoundError{ID: id}
	}
	delete(r.entries, id)

	r.log.Info().Str("model_id", id).Msg("model deregistered")
	return nil
}

// Get returns a borrowed reference to the model's adapter.
func (r *Registry) Get(id string) (ResilientAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return nil, &NotFoundError{ID: id}
	}
	return entry.adapter, nil
}

// Descriptor returns a copy of the model's descriptor.
func (r *Registry) Descriptor(id string) (ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return ModelDescriptor{}, &NotFoundError{ID: id}
	}
	return entry.descriptor, nil
}

// List returns descriptor copies matching the filter, ordered by id so the
// sequence is restartable and stable across calls.
func (r *Registry) List(filter DescriptorFilter) []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]ModelDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter.Matches(entry.descriptor) {
			descriptors = append(descriptors, entry.descriptor)
		}
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ID < descriptors[j].ID })
	return descriptors
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// HealthSnapshots assembles the per-model health view for the health surface.
func (r *Registry) HealthSnapshots() map[string]HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make(map[string]HealthSnapshot, len(r.entries))
	for id, entry := range r.entries {
		snapshot := entry.adapter.Health()
		snapshot.ModelID = id
		snapshot.Provider = entry.descriptor.Provider
		snapshots[id] = snapshot
	}
	return snapshots
}
