package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
)

// TimingConfig sets how long a password login takes at minimum.
type TimingConfig struct {
	Base   time.Duration
	Jitter time.Duration
	// DelayOnSuccess pads successful logins too.
	DelayOnSuccess bool
}

// TimingDelay pads password-login responses so an unknown email, a wrong
// password and a locked account take about the same time. A nil
// *TimingDelay never waits.
type TimingDelay struct {
	config TimingConfig
	clk    clock.Clock
}

func NewTimingDelay(clk clock.Clock, config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, clk: clk}
}

// Begin marks the start of an attempt.
func (td *TimingDelay) Begin() time.Time {
	if td == nil {
		return time.Time{}
	}
	return td.clk.Now()
}

// Target returns Base plus a uniformly random share of Jitter.
func (td *TimingDelay) Target() time.Duration {
	target := td.config.Base
	if td.config.Jitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.Jitter))); err == nil {
			target += time.Duration(n.Int64())
		}
	}
	return target
}

// WaitFrom blocks until Target has passed since start, or ctx ends.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.Target() - td.clk.Now().Sub(start)
	if remaining <= 0 {
		return
	}

	select {
	case <-td.clk.After(remaining):
	case <-ctx.Done():
	}
}
