package plugin

import (
	"slices"
	"sync"
)

// Key builds the composite registry key "<category>.<name>".
func Key(category, name string) string { return category + "." + name }

// Entry is the loaded state of one plugin. Instance is nil when the plugin
// could not be instantiated; LoadErr then carries the cause.
type Entry struct {
	Category string
	Name     string
	Folder   string
	Manifest *Manifest
	Instance any
	LoadErr  error

	loaded *Completion
}

// Key returns the composite registry key of the entry.
func (e *Entry) Key() string { return Key(e.Category, e.Name) }

// loadDone is closed once the entry's OnLoad hook has settled. Entries not
// built by a Loader count as loaded.
func (e *Entry) loadDone() <-chan struct{} {
	if e.loaded == nil {
		return Completed().Done()
	}
	return e.loaded.Done()
}

// Registry maps composite keys to entries. A later Set for the same key
// replaces the earlier entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Set registers entry under its composite key.
func (r *Registry) Set(entry *Entry) {
	if entry == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Key()] = entry
}

// Get returns the entry registered for category and name.
func (r *Registry) Get(category, name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Key(category, name)]
	return e, ok
}

// Entries returns a snapshot of all entries sorted by key.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Entry) int {
		switch ka, kb := a.Key(), b.Key(); {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
