package countdown

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenlink/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestExpiryClockRemainingDecreases(t *testing.T) {
	fake := clock.NewFake(epoch)
	ec := New(fake, epoch, 300*time.Second)

	assert.Equal(t, 300, ec.RemainingSeconds())

	fake.Advance(10 * time.Second)
	assert.Equal(t, 290, ec.RemainingSeconds())

	fake.Advance(500 * time.Millisecond)
	assert.Equal(t, 290, ec.RemainingSeconds(), "partial seconds round up")

	fake.Advance(time.Hour)
	assert.Equal(t, time.Duration(0), ec.Remaining())
	assert.True(t, ec.Expired())
}

func TestExpiryClockFiresOnce(t *testing.T) {
	fake := clock.NewFake(epoch)
	ec := New(fake, epoch, 5*time.Second)

	var fired atomic.Int32
	ec.Start(func() { fired.Add(1) })
	ec.Start(func() { fired.Add(100) })

	fake.Advance(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	fake.Advance(time.Second)
	waitFor(t, func() bool { return fired.Load() == 1 })

	fake.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestExpiryClockCancelBeforeDeadline(t *testing.T) {
	fake := clock.NewFake(epoch)
	ec := New(fake, epoch, 5*time.Second)

	var fired atomic.Int32
	ec.Start(func() { fired.Add(1) })
	ec.Cancel()
	ec.Cancel()

	waitFor(t, func() bool { return fake.Pending() == 0 })
	fake.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestExpiryClockCancelAfterFire(t *testing.T) {
	fake := clock.NewFake(epoch)
	ec := New(fake, epoch, time.Second)

	done := make(chan struct{})
	ec.Start(func() { close(done) })
	fake.Advance(time.Second)
	<-done

	assert.NotPanics(t, func() {
		ec.Cancel()
		ec.Cancel()
	})
}

func TestExpiryClockAlreadyExpiredFiresImmediately(t *testing.T) {
	fake := clock.NewFake(epoch)
	ec := New(fake, epoch.Add(-time.Minute), 30*time.Second)

	done := make(chan struct{})
	ec.Start(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expired clock did not fire")
	}
}
