package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BradenHooton/tokenlink/internal/countdown"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// State is the lifecycle of one resolution race.
type State int

const (
	StateRunning State = iota
	StateResolved
	StateExpired
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateResolved:
		return "resolved"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the terminal outcome of a race. Confirmation is set only for
// StateResolved and Err only for StateFailed.
type Result struct {
	State        State
	Confirmation *models.ConfirmationResult
	Err          error
}

// Race resolves a single login token to exactly one terminal state. Push,
// poll, expiry and cancel all funnel into settle; the first to take the lock
// wins and tears the others down.
type Race struct {
	token    *models.LoginToken
	expiry   *countdown.ExpiryClock
	poll     *PollChannel
	push     *PushChannel
	logger   *slog.Logger
	observer func(Result)

	mu     sync.Mutex
	state  State
	result Result
	done   chan struct{}
}

// NewRace wires the channels for token. push may be nil when no realtime
// transport is configured. observer runs once with the final result, before
// Done is closed.
func NewRace(token *models.LoginToken, expiry *countdown.ExpiryClock, poll *PollChannel, push *PushChannel, logger *slog.Logger, observer func(Result)) *Race {
	return &Race{
		token:    token,
		expiry:   expiry,
		poll:     poll,
		push:     push,
		logger:   logger.With(slog.String("token_id", token.ID)),
		observer: observer,
		state:    StateRunning,
		done:     make(chan struct{}),
	}
}

// Start arms the expiry clock and both channels.
func (r *Race) Start(ctx context.Context) {
	r.expiry.Start(r.expire)
	r.poll.Start(ctx, r.token.ID, func(report *models.StatusReport) {
		r.handle(report, models.SourcePoll)
	})
	if r.push != nil {
		r.push.Connect(ctx, r.token.ID, func(report *models.StatusReport) {
			r.handle(report, models.SourcePush)
		})
	}
}

func (r *Race) handle(report *models.StatusReport, source models.ConfirmSource) {
	switch report.Status {
	case models.LoginTokenConfirmed:
		if report.Credentials == nil {
			r.logger.Warn("confirmation without credentials ignored", slog.String("source", string(source)))
			return
		}
		r.settle(Result{
			State:        StateResolved,
			Confirmation: &models.ConfirmationResult{Bundle: report.Credentials, Source: source},
		})
	case models.LoginTokenExpired:
		r.expire()
	case models.LoginTokenCancelled:
		r.settle(Result{State: StateCancelled})
	case models.LoginTokenNotFound:
		r.settle(Result{
			State: StateFailed,
			Err:   fmt.Errorf("%w: %s", models.ErrTokenNotFound, r.token.ID),
		})
	}
}

func (r *Race) expire() {
	r.settle(Result{State: StateExpired})
}

// Cancel abandons the race. Calling it after the race has settled is a no-op.
func (r *Race) Cancel() {
	r.settle(Result{State: StateCancelled})
}

// settle applies candidate if the race is still running. Once the deadline
// has passed, any outcome other than a local cancel becomes expiry, even if
// the tick has not fired yet.
func (r *Race) settle(candidate Result) bool {
	r.mu.Lock()
	if r.state != StateRunning {
		current := r.state
		r.mu.Unlock()
		if candidate.State == StateResolved {
			r.logger.Debug("late confirmation discarded",
				slog.String("state", current.String()),
				slog.String("source", string(candidate.Confirmation.Source)))
		}
		return false
	}
	if candidate.State != StateCancelled && r.expiry.Expired() {
		candidate = Result{State: StateExpired}
	}
	r.state = candidate.State
	r.result = candidate
	r.mu.Unlock()

	r.teardown()

	r.logger.Info("login token settled", slog.String("state", candidate.State.String()))
	if r.observer != nil {
		r.observer(candidate)
	}
	close(r.done)
	return true
}

func (r *Race) teardown() {
	r.expiry.Cancel()
	if r.push != nil {
		r.push.Close()
	}
	r.poll.Stop()
}

// State returns the current state.
func (r *Race) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the final result; State is StateRunning until settled.
func (r *Race) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return Result{State: StateRunning}
	}
	return r.result
}

// Done is closed after the observer has run.
func (r *Race) Done() <-chan struct{} {
	return r.done
}
