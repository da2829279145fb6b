// Package cancellation implements a process-wide registry that lets one
// goroutine mark a request cancelled and have every interested party —
// typically a backend handler's in-flight HTTP read — find out and unwind.
package cancellation

import (
	"sync"

	"go.uber.org/zap"
)

// AbortCallback is a zero-argument hook fired when its request is cancelled.
type AbortCallback func()

// Registry is a thread-safe mapping from request ID to cancellation state
// and abort callbacks. The zero value is not usable; construct with New.
type Registry struct {
	logger *zap.Logger

	mu        sync.Mutex
	cancelled map[string]struct{}
	callbacks map[string][]AbortCallback
}

// New builds a Registry. logger must not be nil.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger,
		cancelled: make(map[string]struct{}),
		callbacks: make(map[string][]AbortCallback),
	}
}

// RequestCancellation marks id cancelled and fires every callback registered
// under it, exactly once. Subsequent calls for the same id are no-ops.
// An empty id is silently ignored.
func (r *Registry) RequestCancellation(id string) {
	if id == "" {
		return
	}

	var toCall []AbortCallback
	r.mu.Lock()
	if _, already := r.cancelled[id]; already {
		r.mu.Unlock()
		return
	}
	r.cancelled[id] = struct{}{}
	if cbs, ok := r.callbacks[id]; ok {
		toCall = append(toCall, cbs...)
	}
	r.mu.Unlock()

	r.invokeAll(id, toCall)
}

// IsCancelled is a pure read of id's cancellation state.
func (r *Registry) IsCancelled(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[id]
	return ok
}

// AcknowledgeCancellation removes id from the cancelled set and drops its
// callbacks. Safe to call when id is absent.
func (r *Registry) AcknowledgeCancellation(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.cancelled, id)
	delete(r.callbacks, id)
	r.mu.Unlock()
}

// RegisterAbortCallback appends cb to id's callback list. If id is already
// cancelled, cb is invoked immediately, outside the lock, before this call
// returns.
func (r *Registry) RegisterAbortCallback(id string, cb AbortCallback) {
	if id == "" {
		return
	}

	r.mu.Lock()
	if _, already := r.cancelled[id]; already {
		r.mu.Unlock()
		r.invokeOne(id, cb)
		return
	}
	r.callbacks[id] = append(r.callbacks[id], cb)
	r.mu.Unlock()
}

// UnregisterAbortCallbacks drops id's callbacks without touching the
// cancelled flag. Called on normal completion to prevent stale callbacks
// from firing on a later, unrelated reuse of the same id.
func (r *Registry) UnregisterAbortCallbacks(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.callbacks, id)
	r.mu.Unlock()
}

func (r *Registry) invokeAll(id string, cbs []AbortCallback) {
	for _, cb := range cbs {
		r.invokeOne(id, cb)
	}
}

func (r *Registry) invokeOne(id string, cb AbortCallback) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("abort callback panicked",
				zap.String("request_id", id),
				zap.Any("panic", rec),
			)
		}
	}()
	cb()
}
