package httpissuer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BradenHooton/tokenlink/internal/broker"
	"github.com/BradenHooton/tokenlink/internal/models"
)

const controlWriteWait = 5 * time.Second

// Open dials the token's event stream.
func (c *Client) Open(ctx context.Context, tokenID string) (broker.PushStream, error) {
	target, err := c.eventsURL(tokenID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{}
	if secret := c.pollSecret(tokenID); secret != "" {
		header.Set("Authorization", "Bearer "+secret)
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrTokenNotFound, tokenID)
		}
		return nil, fmt.Errorf("dial login token events: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

func (c *Client) eventsURL(tokenID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/login-tokens/" + url.PathEscape(tokenID) + "/events")
	if err != nil {
		return "", fmt.Errorf("build events url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// wsStream adapts a websocket connection to broker.PushStream. Reads happen
// on one goroutine; pings and close may come from others.
type wsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Next() (*models.StatusReport, error) {
	var report models.StatusReport
	if err := s.conn.ReadJSON(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *wsStream) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(controlWriteWait))
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWriteWait))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

var (
	_ broker.Issuer        = (*Client)(nil)
	_ broker.PushTransport = (*Client)(nil)
)
