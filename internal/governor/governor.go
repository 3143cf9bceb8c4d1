// Package governor implements the sliding-window lockout that gates
// password logins.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/countdown"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// Config holds the lockout thresholds.
type Config struct {
	MaxAttempts     int
	AttemptWindow   time.Duration
	LockoutDuration time.Duration
}

// DefaultConfig allows 5 failures in 15 minutes, then locks for 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		AttemptWindow:   15 * time.Minute,
		LockoutDuration: 15 * time.Minute,
	}
}

// Decision is the answer to "may the user try a password now?".
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// WaitSeconds rounds Wait up to whole seconds.
func (d Decision) WaitSeconds() int {
	return int(math.Ceil(d.Wait.Seconds()))
}

// Governor tracks one identity's attempts. Its state lives in a Store and
// every read-modify-write happens under mu.
type Governor struct {
	store  Store
	clk    clock.Clock
	config Config
	logger *slog.Logger
	mu     *sync.Mutex
}

// New creates a governor backed by store.
func New(store Store, clk clock.Clock, config Config, logger *slog.Logger) *Governor {
	return &Governor{
		store:  store,
		clk:    clk,
		config: config,
		logger: logger,
		mu:     &sync.Mutex{},
	}
}

// CheckAllowed prunes the window and decides. Reaching MaxAttempts failures
// starts a lockout here, not in Record. Repeated calls while locked return
// a shrinking wait and leave the stored state alone.
func (g *Governor) CheckAllowed(ctx context.Context) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.Load(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load lockout state: %w", err)
	}

	now := g.clk.Now()
	changed := state.Prune(now, g.config.AttemptWindow)

	decision := Decision{Allowed: true}
	switch {
	case state.Locked(now):
		decision = Decision{Wait: state.LockedUntil.Sub(now)}
	case state.Failures() >= g.config.MaxAttempts:
		until := now.Add(g.config.LockoutDuration)
		state.LockedUntil = &until
		changed = true
		decision = Decision{Wait: g.config.LockoutDuration}
		g.logger.Warn("login lockout started",
			slog.Int("failures", state.Failures()),
			slog.Duration("duration", g.config.LockoutDuration))
	case state.LockedUntil != nil:
		// Lapsed lockout.
		state.LockedUntil = nil
		changed = true
	}

	if changed {
		if err := g.store.Save(ctx, state); err != nil {
			return Decision{}, fmt.Errorf("save lockout state: %w", err)
		}
	}
	return decision, nil
}

// Record appends an attempt. A success clears the window and any lockout.
func (g *Governor) Record(ctx context.Context, outcome models.AttemptOutcome, identityHint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load lockout state: %w", err)
	}

	now := g.clk.Now()
	if outcome == models.AttemptSuccess {
		state.LockedUntil = nil
		state.Window = nil
	} else {
		state.Prune(now, g.config.AttemptWindow)
		state.Window = append(state.Window, models.AttemptRecord{
			Timestamp:    now,
			Outcome:      outcome,
			IdentityHint: identityHint,
		})
	}

	if err := g.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save lockout state: %w", err)
	}
	return nil
}

// Snapshot returns the pruned state without saving it.
func (g *Governor) Snapshot(ctx context.Context) (*models.LockoutState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lockout state: %w", err)
	}
	state.Prune(g.clk.Now(), g.config.AttemptWindow)
	return state.Clone(), nil
}

// Countdown returns a clock running to the end of the active lockout, or
// nil when not locked.
func (g *Governor) Countdown(ctx context.Context) (*countdown.ExpiryClock, error) {
	state, err := g.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := g.clk.Now()
	if !state.Locked(now) {
		return nil, nil
	}
	return countdown.New(g.clk, now, state.LockedUntil.Sub(now)), nil
}
