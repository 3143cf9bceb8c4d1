package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// PollChannel asks the issuer for a token's status at a fixed interval.
type PollChannel struct {
	querier        StatusQuerier
	clk            clock.Clock
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPollChannel creates a PollChannel. It does nothing until Start.
func NewPollChannel(querier StatusQuerier, clk clock.Clock, interval, requestTimeout time.Duration, logger *slog.Logger) *PollChannel {
	return &PollChannel{
		querier:        querier,
		clk:            clk,
		interval:       interval,
		requestTimeout: requestTimeout,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start polls once right away and then on every tick. Every successful
// response is passed to onStatus; the loop ends by itself after a terminal
// status. Failed polls, and confirmations that arrive without credentials,
// are logged and retried on the next tick.
func (p *PollChannel) Start(ctx context.Context, tokenID string, onStatus func(*models.StatusReport)) {
	ticker := p.clk.NewTicker(p.interval)

	go func() {
		defer ticker.Stop()

		for {
			if p.stopped() {
				return
			}

			if report := p.poll(ctx, tokenID); report != nil {
				onStatus(report)
				if report.Status.Terminal() {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *PollChannel) poll(ctx context.Context, tokenID string) *models.StatusReport {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	report, err := p.querier.QueryStatus(reqCtx, tokenID)
	if err != nil {
		p.logger.Debug("login token poll failed, retrying on next tick",
			slog.Duration("interval", p.interval),
			slog.Any("error", err))
		return nil
	}
	if missingCredentials(report) {
		p.logger.Warn("login token confirmed without credentials, retrying on next tick",
			slog.Duration("interval", p.interval))
		return nil
	}
	return report
}

// missingCredentials reports a confirmation that cannot settle a race.
func missingCredentials(report *models.StatusReport) bool {
	return report.Status == models.LoginTokenConfirmed && report.Credentials == nil
}

// Stop halts scheduling. It does not wait for an in-flight request, so it is
// safe to call from onStatus.
func (p *PollChannel) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *PollChannel) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}
