package session

import (
	"context"
	"sync"
	"time"
)

// AutoLocker locks a session after a period of inactivity. It has no
// timer of its own; the host calls Tick, or Run for a ticker loop.
type AutoLocker struct {
	session    *Session
	timeout    time.Duration
	warnBefore time.Duration

	// OnWarn fires once per idle period when the lock is near.
	OnWarn func(remaining time.Duration)
	// OnLock fires after the session was locked.
	OnLock func()

	mu     sync.Mutex
	warned bool
}

// NewAutoLocker creates an auto-locker. A zero timeout disables it.
func NewAutoLocker(s *Session, timeout, warnBefore time.Duration) *AutoLocker {
	return &AutoLocker{
		session:    s,
		timeout:    timeout,
		warnBefore: warnBefore,
	}
}

// Tick checks inactivity at now and locks the session when it has been
// idle for the timeout. It reports whether it locked.
func (a *AutoLocker) Tick(now time.Time) bool {
	if a.timeout <= 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idle, unlocked := a.session.idle(now)
	if !unlocked {
		a.warned = false
		return false
	}

	if idle >= a.timeout {
		if !a.session.lockIfIdle(now, a.timeout) {
			return false
		}
		a.warned = false
		if a.OnLock != nil {
			a.OnLock()
		}
		return true
	}

	warnAt := a.timeout - a.warnBefore
	switch {
	case a.warnBefore > 0 && idle >= warnAt && !a.warned:
		a.warned = true
		if a.OnWarn != nil {
			a.OnWarn(a.timeout - idle)
		}
	case idle < warnAt:
		a.warned = false
	}
	return false
}

// Run ticks every interval until ctx is done.
func (a *AutoLocker) Run(ctx context.Context, interval time.Duration) {
	if a.timeout <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Tick(now)
		}
	}
}
