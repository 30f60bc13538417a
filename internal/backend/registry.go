package backend

import "sync"

// CallbackRegistry is a small fan-out registry for exit callbacks, shared by
// both backends so neither hand-rolls its own subscriber bookkeeping
// (design §9 "Async lifecycle and callbacks").
type CallbackRegistry struct {
	mu        sync.RWMutex
	nextID    uint64
	callbacks map[uint64]ExitCallback
}

// NewCallbackRegistry constructs an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{callbacks: make(map[uint64]ExitCallback)}
}

// Register adds callback and returns a handle to remove it.
func (r *CallbackRegistry) Register(callback ExitCallback) Unregister {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.callbacks[id] = callback
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.callbacks, id)
		r.mu.Unlock()
	}
}

// Dispatch invokes every registered callback with event. Callbacks are
// snapshotted before invocation so a callback registering/unregistering
// during dispatch cannot deadlock or be missed/double-fired within this
// call.
func (r *CallbackRegistry) Dispatch(event ExitEvent) {
	r.mu.RLock()
	handlers := make([]ExitCallback, 0, len(r.callbacks))
	for _, cb := range r.callbacks {
		handlers = append(handlers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range handlers {
		cb(event)
	}
}
