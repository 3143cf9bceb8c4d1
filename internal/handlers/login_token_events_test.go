package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/events"
	"github.com/BradenHooton/tokenlink/internal/handlers"
	"github.com/BradenHooton/tokenlink/internal/models"
)

type eventsFixture struct {
	server   *httptest.Server
	notifier *events.Local
	clk      *clock.FakeClock
}

func newEventsFixture(t *testing.T, allowedOrigins []string) *eventsFixture {
	t.Helper()

	svc := &handlers.MockLoginTokenService{
		GetFunc: func(ctx context.Context, tokenID string) (*models.LoginTokenRecord, error) {
			if tokenID == "missing" {
				return nil, models.ErrTokenNotFound
			}
			return pendingRecord(tokenID), nil
		},
	}
	f := &eventsFixture{
		notifier: events.NewLocal(discard()),
		clk:      clock.NewFake(issuedAt),
	}
	h := handlers.NewLoginTokenEventsHandler(svc, f.notifier, f.clk, allowedOrigins, discard())

	r := chi.NewRouter()
	r.Get("/login-tokens/{id}/events", h.Stream)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *eventsFixture) url(tokenID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/login-tokens/" + tokenID + "/events"
}

// dial opens the event stream the way the issuing device does, with the
// poll secret in the handshake.
func (f *eventsFixture) dial(tokenID string, header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Authorization", "Bearer "+handlers.TestPollSecret)
	return websocket.DefaultDialer.Dial(f.url(tokenID), header)
}

func readReport(t *testing.T, conn *websocket.Conn) models.StatusReport {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var report models.StatusReport
	require.NoError(t, conn.ReadJSON(&report))
	return report
}

func assertNormalClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
}

func TestLoginTokenEvents_Confirmed(t *testing.T) {
	f := newEventsFixture(t, nil)

	conn, _, err := f.dial("tok", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, models.LoginTokenPending, readReport(t, conn).Status)

	bundle := &models.CredentialBundle{AccessToken: "at", RefreshToken: "rt", UserID: "u1"}
	require.NoError(t, f.notifier.Publish(context.Background(), "tok",
		models.StatusReport{Status: models.LoginTokenConfirmed, Credentials: bundle}))

	report := readReport(t, conn)
	assert.Equal(t, models.LoginTokenConfirmed, report.Status)
	require.NotNil(t, report.Credentials)
	assert.Equal(t, "at", report.Credentials.AccessToken)
	assertNormalClose(t, conn)
}

func TestLoginTokenEvents_ExpiresAtDeadline(t *testing.T) {
	f := newEventsFixture(t, nil)

	conn, _, err := f.dial("tok", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, models.LoginTokenPending, readReport(t, conn).Status)

	f.clk.WaitForTimers(1)
	f.clk.Advance(5 * time.Minute)

	assert.Equal(t, models.LoginTokenExpired, readReport(t, conn).Status)
	assertNormalClose(t, conn)
}

func TestLoginTokenEvents_UnknownTokenRejectedBeforeUpgrade(t *testing.T) {
	f := newEventsFixture(t, nil)

	_, resp, err := f.dial("missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginTokenEvents_RequiresPollSecret(t *testing.T) {
	f := newEventsFixture(t, nil)

	for name, header := range map[string]http.Header{
		"no credential": nil,
		"wrong secret":  {"Authorization": []string{"Bearer guess"}},
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(f.url("tok"), header)
			if conn != nil {
				conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			assert.NotContains(t, string(body), "credentials")
		})
	}
}

func TestLoginTokenEvents_Origin(t *testing.T) {
	f := newEventsFixture(t, []string{"https://app.example.com"})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := f.dial("tok", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := f.dial("tok", header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, models.LoginTokenPending, readReport(t, conn).Status)
}
