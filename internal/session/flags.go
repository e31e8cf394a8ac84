// Package session tracks per-session collapse flags for the host layer. The
// engine itself is stateless; the only state shared across invocations is the
// "treat history as fresh" flag, keyed by session identifier so distinct
// sessions never interfere.
package session

import "sync"

// FreshFlags records which sessions must ignore their previously wrapped
// history on the next collapse. The host sets a flag at session start or on a
// model/provider switch; the collapse path consumes it exactly once.
type FreshFlags struct {
	mu    sync.Mutex
	fresh map[string]bool
}

// NewFreshFlags constructs an empty flag store.
func NewFreshFlags() *FreshFlags {
	return &FreshFlags{fresh: make(map[string]bool)}
}

// MarkFresh flags a session so its next collapse ignores wrapped history.
func (f *FreshFlags) MarkFresh(sessionID string) {
	if sessionID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fresh[sessionID] = true
}

// ConsumeFresh reports whether the session was flagged and clears the flag in
// the same critical section, so exactly one collapse observes it.
func (f *FreshFlags) ConsumeFresh(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fresh[sessionID] {
		return false
	}
	delete(f.fresh, sessionID)
	return true
}

// Forget drops any flag for a finished session.
func (f *FreshFlags) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fresh, sessionID)
}
