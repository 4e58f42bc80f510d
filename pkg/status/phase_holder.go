package status

import "sync"

// PhaseHolder stores the current phase of a signal in a thread-safe way.
// the signal's timer goroutine is the only writer, any goroutine may read.
type PhaseHolder struct {
	mu       sync.RWMutex
	phase    Phase
	changes  uint64
	onChange func(old, cur Phase)
}

// OnChange registers a callback that fires after every phase change.
// only one callback is supported; subsequent calls replace the previous one.
func (h *PhaseHolder) OnChange(fn func(old, cur Phase)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Toggle flips the phase to its Next value, fires the OnChange callback and returns the new phase.
// the flip happens under one lock, so concurrent readers never see an intermediate value.
func (h *PhaseHolder) Toggle() Phase {
	h.mu.Lock()
	old := h.phase
	cur := old.Next()
	h.phase = cur
	h.changes++
	cb := h.onChange
	h.mu.Unlock()

	if cb != nil {
		cb(old, cur)
	}
	return cur
}

// Get returns the current phase.
func (h *PhaseHolder) Get() Phase {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.phase
}

// Changes returns how many times the phase has changed.
func (h *PhaseHolder) Changes() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.changes
}
