package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// RetryPolicy bounds push reconnects.
type RetryPolicy struct {
	Delay      time.Duration // wait between attempts
	MaxRetries int           // total reconnects over the channel's lifetime
}

// DefaultRetryPolicy reconnects every 3s, at most 5 times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delay:      3 * time.Second,
		MaxRetries: 5,
	}
}

// PushChannel holds a realtime connection for one token and reconnects when
// it drops. Failures are never surfaced: polling is the fallback.
type PushChannel struct {
	transport    PushTransport
	clk          clock.Clock
	retry        RetryPolicy
	pingInterval time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	stream    PushStream
	closed    bool
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewPushChannel creates a PushChannel. It does nothing until Connect.
func NewPushChannel(transport PushTransport, clk clock.Clock, retry RetryPolicy, pingInterval time.Duration, logger *slog.Logger) *PushChannel {
	return &PushChannel{
		transport:    transport,
		clk:          clk,
		retry:        retry,
		pingInterval: pingInterval,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

// Connect opens the stream in the background. onEvent receives each
// terminal status once; pending updates are dropped.
func (p *PushChannel) Connect(ctx context.Context, tokenID string, onEvent func(*models.StatusReport)) {
	go p.run(ctx, tokenID, onEvent)
}

func (p *PushChannel) run(ctx context.Context, tokenID string, onEvent func(*models.StatusReport)) {
	retries := 0

	for {
		if p.isClosed() {
			return
		}

		stream, err := p.transport.Open(ctx, tokenID)
		switch {
		case err == nil:
			if !p.attach(stream) {
				_ = stream.Close()
				return
			}
			finished := p.session(stream, onEvent)
			p.detach(stream)
			if finished {
				return
			}
		case errors.Is(err, models.ErrTokenNotFound):
			onEvent(&models.StatusReport{Status: models.LoginTokenNotFound})
			return
		default:
			p.logger.Warn("push connect failed", slog.Any("error", err))
		}

		if p.isClosed() {
			return
		}
		if retries >= p.retry.MaxRetries {
			p.logger.Info("push reconnects exhausted, relying on polling",
				slog.Int("retries", retries))
			return
		}
		retries++

		select {
		case <-p.clk.After(p.retry.Delay):
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// session reads until the stream fails or a terminal event arrives; it
// returns true in the latter case. A confirmation without credentials is
// skipped, so the channel reconnects once the server closes the stream.
func (p *PushChannel) session(stream PushStream, onEvent func(*models.StatusReport)) bool {
	ticker := p.clk.NewTicker(p.pingInterval)
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := stream.Ping(); err != nil {
					p.logger.Debug("push keep-alive failed", slog.Any("error", err))
					_ = stream.Close()
					return
				}
			case <-sessionDone:
				return
			}
		}
	}()

	for {
		report, err := stream.Next()
		if err != nil {
			if !p.isClosed() {
				p.logger.Debug("push stream dropped", slog.Any("error", err))
			}
			return false
		}
		if !report.Status.Terminal() {
			continue
		}
		if missingCredentials(report) {
			p.logger.Warn("push confirmation without credentials skipped")
			continue
		}
		onEvent(report)
		return true
	}
}

func (p *PushChannel) attach(stream PushStream) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.stream = stream
	return true
}

func (p *PushChannel) detach(stream PushStream) {
	p.mu.Lock()
	if p.stream == stream {
		p.stream = nil
	}
	p.mu.Unlock()
	_ = stream.Close()
}

// Close tears down the current connection and stops reconnecting. It is
// idempotent and does not wait for the background goroutine.
func (p *PushChannel) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		stream := p.stream
		p.mu.Unlock()

		close(p.stopCh)
		if stream != nil {
			_ = stream.Close()
		}
	})
}

func (p *PushChannel) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
