// Package countdown implements the one-shot deadline used for login tokens
// and for lockouts.
package countdown

import (
	"math"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
)

// Resolution is the tick interval of an ExpiryClock.
const Resolution = time.Second

// ExpiryClock counts down to a fixed deadline and fires a callback once when
// it is reached.
type ExpiryClock struct {
	clk       clock.Clock
	expiresAt time.Time

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New returns a clock that expires ttl after issuedAt.
func New(clk clock.Clock, issuedAt time.Time, ttl time.Duration) *ExpiryClock {
	return &ExpiryClock{
		clk:       clk,
		expiresAt: issuedAt.Add(ttl),
		stopCh:    make(chan struct{}),
	}
}

// ExpiresAt returns the deadline.
func (e *ExpiryClock) ExpiresAt() time.Time {
	return e.expiresAt
}

// Remaining returns the time left, never negative.
func (e *ExpiryClock) Remaining() time.Duration {
	left := e.expiresAt.Sub(e.clk.Now())
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds rounds Remaining up, so a countdown shows 1 until the
// deadline has actually passed.
func (e *ExpiryClock) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining().Seconds()))
}

// Expired reports whether the deadline has been reached, whether or not the
// tick that fires the callback has run yet.
func (e *ExpiryClock) Expired() bool {
	return !e.clk.Now().Before(e.expiresAt)
}

// Start launches the tick goroutine. onExpire runs at most once and never
// after Cancel has returned before the deadline was observed. Calling Start
// more than once has no effect.
func (e *ExpiryClock) Start(onExpire func()) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	ticker := e.clk.NewTicker(Resolution)
	go func() {
		defer ticker.Stop()
		for {
			if e.Expired() {
				select {
				case <-e.stopCh:
				default:
					if onExpire != nil {
						onExpire()
					}
				}
				return
			}

			select {
			case <-ticker.C:
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Cancel stops the clock. It is safe to call any number of times, including
// after the clock has fired.
func (e *ExpiryClock) Cancel() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
