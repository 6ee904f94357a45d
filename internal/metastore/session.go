package metastore

import (
	"sync"
	"time"
)

// FatalErrorHandler is invoked when a session expires, the trigger for the
// node's exit-on-fatal-condition shutdown path.
type FatalErrorHandler func(err error)

// ErrSessionExpired is passed to the FatalErrorHandler when a session's
// lease lapses without renewal.
type ErrSessionExpired struct{ SessionID string }

func (e *ErrSessionExpired) Error() string {
	return "metastore: session " + e.SessionID + " expired"
}

// sessionEntry tracks one session's lease and the ephemeral paths it owns.
type sessionEntry struct {
	lastRenewal time.Time
	ttl         time.Duration
	paths       map[string]struct{}
}

// sessionTracker is the ephemeral-node half of the hierarchical store,
// adapted from the teacher's cluster.PeerState: a TTL-expiring map, but
// keyed by session ID rather than peer ID, and tracking owned paths rather
// than peer stats so an expired session's nodes can be torn down.
type sessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	fatal    FatalErrorHandler
	onExpire func(sessionID string, paths []string)
}

func newSessionTracker(fatal FatalErrorHandler, onExpire func(sessionID string, paths []string)) *sessionTracker {
	return &sessionTracker{
		sessions: make(map[string]*sessionEntry),
		fatal:    fatal,
		onExpire: onExpire,
	}
}

// open registers a new session with the given TTL.
func (t *sessionTracker) open(sessionID string, ttl time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &sessionEntry{lastRenewal: now, ttl: ttl, paths: make(map[string]struct{})}
}

// renew extends a session's lease. Reports false if the session is unknown
// (already expired and reaped).
func (t *sessionTracker) renew(sessionID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	e.lastRenewal = now
	return true
}

// track records that sessionID owns an ephemeral node at path.
func (t *sessionTracker) track(sessionID, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	e.paths[path] = struct{}{}
	return true
}

// sweep reaps every session whose lease has lapsed as of now, invoking
// onExpire with each session's owned paths and the fatal handler once per
// expiry. Session expiry is fatal to the node, not just that session, since
// this store backs the node's own chunk-ownership claims.
func (t *sessionTracker) sweep(now time.Time) {
	t.mu.Lock()
	var expired []struct {
		id    string
		paths []string
	}
	for id, e := range t.sessions {
		if now.Sub(e.lastRenewal) <= e.ttl {
			continue
		}
		paths := make([]string, 0, len(e.paths))
		for p := range e.paths {
			paths = append(paths, p)
		}
		expired = append(expired, struct {
			id    string
			paths []string
		}{id, paths})
		delete(t.sessions, id)
	}
	t.mu.Unlock()

	for _, e := range expired {
		if t.onExpire != nil {
			t.onExpire(e.id, e.paths)
		}
		if t.fatal != nil {
			t.fatal(&ErrSessionExpired{SessionID: e.id})
		}
	}
}
