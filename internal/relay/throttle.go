package relay

import (
	"sync"
	"time"
)

const (
	// maxLoginFailures failed attempts inside loginWindow disable further
	// AUTHENTICATE commands on that connection until the window elapses.
	maxLoginFailures = 5
	loginWindow      = time.Minute
)

// window tracks failed login attempts for one connection. The window starts
// at the first failure and resets once loginWindow has elapsed.
type window struct {
	failures int
	start    time.Time
}

// Throttle is the per-connection login rate limiter. It is advisory: it
// defends against noisy retry loops, not determined abuse, and state does
// not survive a reconnect.
type Throttle struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewThrottle() *Throttle {
	return &Throttle{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether the connection may attempt another login.
func (t *Throttle) Allow(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[connID]
	if !ok {
		return true
	}
	if t.now().Sub(w.start) >= loginWindow {
		delete(t.windows, connID)
		return true
	}
	return w.failures < maxLoginFailures
}

// RecordFailure counts one failed login, starting a new window if none is
// active.
func (t *Throttle) RecordFailure(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[connID]
	if !ok || t.now().Sub(w.start) >= loginWindow {
		t.windows[connID] = &window{failures: 1, start: t.now()}
		return
	}
	w.failures++
}

// Forget drops all state for a closed connection.
func (t *Throttle) Forget(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, connID)
}
