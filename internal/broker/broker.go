package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/countdown"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// Config tunes the channels of every token the broker starts.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Retry          RetryPolicy
	PingInterval   time.Duration
}

// DefaultConfig polls every 2s and pings the push stream every 20s.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		RequestTimeout: 10 * time.Second,
		Retry:          DefaultRetryPolicy(),
		PingInterval:   20 * time.Second,
	}
}

// Broker issues login tokens and resolves them. At most one token is live
// at a time; starting a new one cancels the previous.
type Broker struct {
	issuer    Issuer
	transport PushTransport
	sink      SessionSink
	clk       clock.Clock
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	current *Handle
}

// New creates a Broker. transport may be nil, in which case tokens resolve
// through polling alone.
func New(issuer Issuer, transport PushTransport, sink SessionSink, clk clock.Clock, config Config, logger *slog.Logger) *Broker {
	return &Broker{
		issuer:    issuer,
		transport: transport,
		sink:      sink,
		clk:       clk,
		config:    config,
		logger:    logger,
	}
}

// Handle is the caller's view of one live login token.
type Handle struct {
	token  *models.LoginToken
	expiry *countdown.ExpiryClock
	race   *Race
}

// Token returns the issued token, including the verify code to display.
func (h *Handle) Token() *models.LoginToken { return h.token }

// Remaining returns the time left before the token expires.
func (h *Handle) Remaining() time.Duration { return h.expiry.Remaining() }

// RemainingSeconds is Remaining rounded up to whole seconds.
func (h *Handle) RemainingSeconds() int { return h.expiry.RemainingSeconds() }

// Cancel abandons the token. Safe to call repeatedly.
func (h *Handle) Cancel() { h.race.Cancel() }

// Done is closed once the token has settled and the session sink has run.
func (h *Handle) Done() <-chan struct{} { return h.race.Done() }

// Result returns the outcome so far.
func (h *Handle) Result() Result { return h.race.Result() }

// Wait blocks until the token settles or ctx ends. A failed race returns its
// error alongside the result.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.race.Done():
		result := h.race.Result()
		return result, result.Err
	case <-ctx.Done():
		return Result{State: StateRunning}, ctx.Err()
	}
}

// Start issues a token on the given channel and begins resolving it. ctx
// bounds only the issue request; the race outlives it.
func (b *Broker) Start(ctx context.Context, kind models.ChannelKind, identityHint string) (*Handle, error) {
	b.Cancel()

	token, err := b.issuer.Issue(ctx, kind, identityHint)
	if err != nil {
		b.logger.Error("failed to issue login token",
			slog.String("channel", string(kind)),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}
	ttl := token.TTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token %s issued with non-positive ttl", models.ErrIssuerUnavailable, token.ID)
	}

	// The deadline is anchored to local receipt time so server clock skew
	// cannot shorten or stretch the countdown.
	expiry := countdown.New(b.clk, b.clk.Now(), ttl)
	poll := NewPollChannel(b.issuer, b.clk, b.config.PollInterval, b.config.RequestTimeout, b.logger)

	var push *PushChannel
	if b.transport != nil {
		push = NewPushChannel(b.transport, b.clk, b.config.Retry, b.config.PingInterval, b.logger)
	}

	handle := &Handle{token: token, expiry: expiry}
	handle.race = NewRace(token, expiry, poll, push, b.logger, func(result Result) {
		b.deliver(token, result)
	})

	b.mu.Lock()
	b.current = handle
	b.mu.Unlock()

	b.logger.Info("login token issued",
		slog.String("token_id", token.ID),
		slog.String("channel", string(kind)),
		slog.Duration("ttl", ttl))

	handle.race.Start(context.WithoutCancel(ctx))
	return handle, nil
}

// Refresh cancels the live token, if any, and issues a fresh one.
func (b *Broker) Refresh(ctx context.Context, kind models.ChannelKind, identityHint string) (*Handle, error) {
	return b.Start(ctx, kind, identityHint)
}

// Cancel cancels the live token, if any.
func (b *Broker) Cancel() {
	b.mu.Lock()
	current := b.current
	b.current = nil
	b.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// Current returns the live handle, or nil.
func (b *Broker) Current() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Broker) deliver(token *models.LoginToken, result Result) {
	if result.State != StateResolved {
		return
	}
	if err := b.sink.Accept(result.Confirmation.Bundle); err != nil {
		b.logger.Error("session sink rejected credentials",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
	}
}
