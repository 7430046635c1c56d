// Package watcher defines the interface between AI coding tools and the
// store. Each tool gets a watcher that knows where the tool keeps its
// transcripts and how to turn them into normalized sessions. Watchers only
// read; the import pipeline owns all store writes.
package watcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// Info describes a watcher for display and diagnostics.
type Info struct {
	// Name is the tool identifier stamped on captured sessions.
	Name string
	// Description is a one-line human-readable description.
	Description string
	// DefaultPaths lists where the tool usually keeps its data.
	DefaultPaths []string
}

// Watcher converts one tool's native transcripts into normalized sessions.
// ParseSource is pure with respect to the filesystem: it reads and returns,
// never writing to the store. Implementations must be safe for concurrent
// use.
type Watcher interface {
	// Info returns the watcher's descriptor.
	Info() Info

	// IsAvailable reports whether the tool's data directory exists on this
	// machine.
	IsAvailable() bool

	// FindSources returns paths to transcripts to feed back to ParseSource.
	FindSources() ([]string, error)

	// ParseSource parses one source into sessions with their messages.
	// An empty return is legal (e.g. a metadata-only file).
	ParseSource(path string) ([]ParsedSession, error)

	// WatchPaths returns directories the daemon should watch for changes.
	WatchPaths() []string
}

// ParsedSession pairs a session with its parsed messages.
type ParsedSession struct {
	Session  model.Session
	Messages []model.Message
}

// Factory creates a new watcher instance.
type Factory func() Watcher

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a watcher factory to the registry.
// Called from init() in each watcher implementation.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a watcher by name.
//
//nolint:ireturn // Factory pattern requires returning the interface
func Get(name string) (Watcher, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown watcher: %s (available: %v)", name, List())
	}
	return factory(), nil
}

// List returns all registered watcher names in sorted order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns one instance of every registered watcher, sorted by name.
func All() []Watcher {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	watchers := make([]Watcher, 0, len(names))
	for _, name := range names {
		watchers = append(watchers, registry[name]())
	}
	return watchers
}

// Available returns instances of every watcher whose tool is present on
// this machine.
func Available() []Watcher {
	var available []Watcher
	for _, w := range All() {
		if w.IsAvailable() {
			available = append(available, w)
		}
	}
	return available
}
