package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/countdown"
	"github.com/BradenHooton/tokenlink/internal/models"
)

func newTestRace(clk *clock.FakeClock, ttl time.Duration, observer func(Result)) *Race {
	token := &models.LoginToken{ID: "tok", IssuedAt: epoch, ExpiresAt: epoch.Add(ttl)}
	expiry := countdown.New(clk, clk.Now(), ttl)
	poll := NewPollChannel(newFakeIssuer(ttl), clk, time.Second, time.Second, discardLogger())
	return NewRace(token, expiry, poll, nil, discardLogger(), observer)
}

func TestRace_ExpiryDominatesLateConfirmation(t *testing.T) {
	clk := clock.NewFake(epoch)
	var observed []Result
	race := newTestRace(clk, 5*time.Second, func(r Result) { observed = append(observed, r) })

	// The deadline has passed but no tick has been processed yet.
	clk.Advance(5 * time.Second)
	race.handle(&models.StatusReport{Status: models.LoginTokenConfirmed, Credentials: bundle("x")}, models.SourcePush)

	require.Len(t, observed, 1)
	assert.Equal(t, StateExpired, observed[0].State)
	assert.Nil(t, observed[0].Confirmation)
}

func TestRace_SettlesOnce(t *testing.T) {
	clk := clock.NewFake(epoch)
	var observed []Result
	race := newTestRace(clk, time.Minute, func(r Result) { observed = append(observed, r) })

	race.handle(&models.StatusReport{Status: models.LoginTokenConfirmed, Credentials: bundle("a")}, models.SourcePoll)
	race.handle(&models.StatusReport{Status: models.LoginTokenConfirmed, Credentials: bundle("b")}, models.SourcePush)
	race.expire()
	race.Cancel()

	require.Len(t, observed, 1)
	assert.Equal(t, StateResolved, observed[0].State)
	assert.Equal(t, "access-a", observed[0].Confirmation.Bundle.AccessToken)
	assert.Equal(t, StateResolved, race.State())

	select {
	case <-race.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestRace_ConfirmationWithoutCredentialsIgnored(t *testing.T) {
	clk := clock.NewFake(epoch)
	race := newTestRace(clk, time.Minute, nil)

	race.handle(&models.StatusReport{Status: models.LoginTokenConfirmed}, models.SourcePoll)
	assert.Equal(t, StateRunning, race.State())

	race.handle(&models.StatusReport{Status: models.LoginTokenPending}, models.SourcePoll)
	assert.Equal(t, StateRunning, race.State())

	race.Cancel()
	assert.Equal(t, StateCancelled, race.State())
}

func TestRace_CancelAfterDeadlineStaysCancelled(t *testing.T) {
	clk := clock.NewFake(epoch)
	race := newTestRace(clk, time.Second, nil)

	clk.Advance(2 * time.Second)
	race.Cancel()
	assert.Equal(t, StateCancelled, race.Result().State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "resolved", StateResolved.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
