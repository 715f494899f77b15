package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// The registry lets session configs name their observer ("slog", "noop", or
// anything a program registered at startup) instead of threading Observer
// values through every constructor.
var registry = struct {
	sync.RWMutex
	byName map[string]Observer
}{
	byName: map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
	},
}

// GetObserver returns a registered observer by name. "noop" and "slog" are
// always present.
func GetObserver(name string) (Observer, error) {
	registry.RLock()
	defer registry.RUnlock()

	obs, exists := registry.byName[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// RegisterObserver adds or replaces a named observer in the global registry.
func RegisterObserver(name string, observer Observer) {
	registry.Lock()
	defer registry.Unlock()

	registry.byName[name] = observer
}
