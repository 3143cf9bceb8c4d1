package governor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// LockedOutError is returned by Keyed.Allow while an identity is locked.
type LockedOutError struct {
	Wait time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %ds", e.RetryAfterSeconds())
}

func (e *LockedOutError) Unwrap() error {
	return models.ErrLockedOut
}

// RetryAfterSeconds is the Retry-After header value.
func (e *LockedOutError) RetryAfterSeconds() int {
	return int(math.Ceil(e.Wait.Seconds()))
}

// Keyed hands out governors per identity over a shared KeyedStore. All of
// them serialize on one mutex.
type Keyed struct {
	store  KeyedStore
	clk    clock.Clock
	config Config
	logger *slog.Logger
	mu     sync.Mutex
}

// NewKeyed creates a Keyed governor.
func NewKeyed(store KeyedStore, clk clock.Clock, config Config, logger *slog.Logger) *Keyed {
	return &Keyed{
		store:  store,
		clk:    clk,
		config: config,
		logger: logger,
	}
}

// For returns the governor for key.
func (k *Keyed) For(key string) *Governor {
	return &Governor{
		store:  Bind(k.store, key),
		clk:    k.clk,
		config: k.config,
		logger: k.logger.With(slog.String("lockout_key", key)),
		mu:     &k.mu,
	}
}

// Allow returns a *LockedOutError when key may not attempt a login now.
func (k *Keyed) Allow(ctx context.Context, key string) error {
	decision, err := k.For(key).CheckAllowed(ctx)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &LockedOutError{Wait: decision.Wait}
	}
	return nil
}

// Record records an attempt for key.
func (k *Keyed) Record(ctx context.Context, key string, outcome models.AttemptOutcome, identityHint string) error {
	return k.For(key).Record(ctx, outcome, identityHint)
}
