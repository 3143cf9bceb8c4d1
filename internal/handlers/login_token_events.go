package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/events"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/BradenHooton/tokenlink/internal/services"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

const (
	eventsWriteWait = 10 * time.Second
	// Clients ping every 20s by default; anything quieter than this is gone.
	eventsReadWait = 60 * time.Second
)

// LoginTokenEventsHandler pushes status changes over a websocket
type LoginTokenEventsHandler struct {
	service  LoginTokenServiceInterface
	notifier events.Notifier
	clk      clock.Clock
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewLoginTokenEventsHandler creates the handler. Browser origins must be
// listed in allowedOrigins; clients that send no Origin are accepted.
func NewLoginTokenEventsHandler(service LoginTokenServiceInterface, notifier events.Notifier, clk clock.Clock, allowedOrigins []string, logger *slog.Logger) *LoginTokenEventsHandler {
	return &LoginTokenEventsHandler{
		service:  service,
		notifier: notifier,
		clk:      clk,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Stream sends the current status, then every change, then expired at the
// deadline. The socket is closed after the first terminal status. The
// handshake must carry the poll secret as a Bearer credential.
// @Router /login-tokens/{id}/events [get]
func (h *LoginTokenEventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the state so nothing published in between
	// is missed.
	sub, err := h.notifier.Subscribe(ctx, tokenID)
	if err != nil {
		h.logger.Error("failed to subscribe to login token events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	defer sub.Close()

	rec, err := h.service.Authorize(ctx, tokenID, pollSecret(r))
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("token_id", pkglogger.TokenIDPrefix(tokenID)))
	log.Debug("login token event stream opened")

	readerDone := make(chan struct{})
	go h.readLoop(conn, readerDone)

	if done := h.send(conn, services.ReportFor(rec), log); done {
		return
	}

	deadline := h.clk.After(rec.ExpiresAt.Sub(h.clk.Now()))
	for {
		select {
		case report, ok := <-sub.Events():
			if !ok {
				return
			}
			if h.send(conn, report, log) {
				return
			}
		case <-deadline:
			h.send(conn, models.StatusReport{Status: models.LoginTokenExpired}, log)
			return
		case <-readerDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// send writes report and, when it is terminal, a close frame. It reports
// whether the stream is finished.
func (h *LoginTokenEventsHandler) send(conn *websocket.Conn, report models.StatusReport, log *slog.Logger) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	if err := conn.WriteJSON(report); err != nil {
		log.Debug("login token event write failed", slog.Any("error", err))
		return true
	}
	if !report.Status.Terminal() {
		return false
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(report.Status))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventsWriteWait))
	log.Debug("login token event stream closed", slog.String("status", string(report.Status)))
	return true
}

// readLoop answers pings and notices when the client goes away. Clients
// never send data frames.
func (h *LoginTokenEventsHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventsReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(eventsReadWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(eventsWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
