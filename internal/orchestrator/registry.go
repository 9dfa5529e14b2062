package orchestrator

import "sync"

// SessionRegistry hands out per-session serialization. Route is not
// reentrant per session key: the engine mutates the active lane set, the
// latest primary, and the override across several store calls, so callers
// hold the session lock around each Route invocation. Different sessions
// proceed in parallel.
type SessionRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the session and returns its release function.
//
//	release := registry.Acquire(sessionID)
//	defer release()
func (r *SessionRegistry) Acquire(sessionID string) func() {
	r.mu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
