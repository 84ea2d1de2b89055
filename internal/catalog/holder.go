package catalog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"orchestrator/internal/domain"
)

// Holder publishes the current Generation. Readers call Current once per operation
// and never observe a partially applied change; writers are serialized.
type Holder struct {
	mu        sync.Mutex
	current   atomic.Pointer[Generation]
	overrides map[string]bool
	version   uint64
}

// NewHolder publishes gen as the first generation.
func NewHolder(gen *Generation) *Holder {
	h := &Holder{overrides: map[string]bool{}}
	h.Replace(gen)
	return h
}

// Current returns the latest published generation.
func (h *Holder) Current() *Generation {
	return h.current.Load()
}

// Replace swaps in a freshly loaded catalog, keeping runtime engine overrides.
func (h *Holder) Replace(gen *Generation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version++
	next := newGeneration(h.version, gen.Ecosystems, gen.workflows, gen.engines)
	if applied := next.withEngineStates(h.version, h.overrides); applied != nil {
		next = applied
	}
	h.current.Store(next)
}

// ApplyEngineStates replaces every runtime override at once. It reports whether a
// new generation was published.
func (h *Holder) ApplyEngineStates(states map[string]bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	overrides := make(map[string]bool, len(states))
	for k, v := range states {
		overrides[NormalizeKey(k)] = v
	}
	h.overrides = overrides
	return h.publishLocked()
}

// SetEngineDisabled overrides a single engine.
func (h *Holder) SetEngineDisabled(key string, disabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key = NormalizeKey(key)
	if _, ok := h.current.Load().Engine(key); !ok {
		return fmt.Errorf("engine %q: %w", key, domain.ErrNotFound)
	}
	overrides := make(map[string]bool, len(h.overrides)+1)
	for k, v := range h.overrides {
		overrides[k] = v
	}
	overrides[key] = disabled
	h.overrides = overrides
	h.publishLocked()
	return nil
}

func (h *Holder) publishLocked() bool {
	next := h.current.Load().withEngineStates(h.version+1, h.overrides)
	if next == nil {
		return false
	}
	h.version++
	h.current.Store(next)
	return true
}
