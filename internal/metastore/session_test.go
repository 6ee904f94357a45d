package metastore

import (
	"sort"
	"testing"
	"time"
)

func TestSessionTrackerRenewExtendsLease(t *testing.T) {
	tr := newSessionTracker(nil, nil)
	base := time.Now()
	tr.open("s1", 100*time.Millisecond, base)

	if !tr.renew("s1", base.Add(50*time.Millisecond)) {
		t.Fatal("renew should succeed for a known session")
	}
	if tr.renew("unknown", base) {
		t.Error("renew should fail for an unknown session")
	}
}

func TestSessionTrackerTrackRequiresOpenSession(t *testing.T) {
	tr := newSessionTracker(nil, nil)
	if tr.track("s1", "/live/a") {
		t.Fatal("track should fail before the session is opened")
	}

	tr.open("s1", time.Second, time.Now())
	if !tr.track("s1", "/live/a") {
		t.Fatal("track should succeed once the session is open")
	}
}

func TestSessionTrackerSweepExpiresAndTearsDown(t *testing.T) {
	var tornDownSession string
	var tornDownPaths []string
	var fatalErr error

	tr := newSessionTracker(
		func(err error) { fatalErr = err },
		func(sessionID string, paths []string) {
			tornDownSession = sessionID
			tornDownPaths = paths
		},
	)

	base := time.Now()
	tr.open("s1", 10*time.Millisecond, base)
	tr.track("s1", "/live/a")
	tr.track("s1", "/live/b")

	tr.sweep(base.Add(time.Millisecond)) // not yet expired
	if fatalErr != nil {
		t.Fatal("session should not have expired yet")
	}

	tr.sweep(base.Add(time.Second)) // well past ttl
	if fatalErr == nil {
		t.Fatal("expected fatal handler to be invoked on expiry")
	}
	if tornDownSession != "s1" {
		t.Errorf("tornDownSession = %q, want s1", tornDownSession)
	}
	sort.Strings(tornDownPaths)
	if len(tornDownPaths) != 2 || tornDownPaths[0] != "/live/a" || tornDownPaths[1] != "/live/b" {
		t.Errorf("tornDownPaths = %v, want [/live/a /live/b]", tornDownPaths)
	}

	if tr.renew("s1", time.Now()) {
		t.Error("renew should fail once a session has been reaped")
	}
}

func TestSessionTrackerSweepIgnoresFreshSessions(t *testing.T) {
	called := false
	tr := newSessionTracker(func(error) { called = true }, nil)

	base := time.Now()
	tr.open("s1", time.Hour, base)
	tr.sweep(base.Add(time.Second))

	if called {
		t.Error("fatal handler should not fire for a session within its TTL")
	}
}
