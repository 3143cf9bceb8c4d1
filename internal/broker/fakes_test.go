package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenlink/internal/models"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func bundle(tag string) *models.CredentialBundle {
	return &models.CredentialBundle{
		AccessToken:  "access-" + tag,
		RefreshToken: "refresh-" + tag,
		UserID:       "user-" + tag,
		Email:        tag + "@example.com",
	}
}

// fakeIssuer hands out tokens with a fixed TTL and answers status queries
// from a mutable report.
type fakeIssuer struct {
	mu      sync.Mutex
	ttl     time.Duration
	report  models.StatusReport
	err     error
	issued  []string
	queries atomic.Int32

	IssueFunc func(ctx context.Context, kind models.ChannelKind, hint string) (*models.LoginToken, error)
}

func newFakeIssuer(ttl time.Duration) *fakeIssuer {
	return &fakeIssuer{ttl: ttl, report: models.StatusReport{Status: models.LoginTokenPending}}
}

func (f *fakeIssuer) Issue(ctx context.Context, kind models.ChannelKind, hint string) (*models.LoginToken, error) {
	if f.IssueFunc != nil {
		return f.IssueFunc(ctx, kind, hint)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "tok-" + string(rune('a'+len(f.issued)))
	f.issued = append(f.issued, id)
	return &models.LoginToken{
		ID:         id,
		Channel:    kind,
		Status:     models.LoginTokenPending,
		VerifyCode: "123456",
		IssuedAt:   epoch,
		ExpiresAt:  epoch.Add(f.ttl),
	}, nil
}

func (f *fakeIssuer) QueryStatus(ctx context.Context, tokenID string) (*models.StatusReport, error) {
	f.queries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	report := f.report
	return &report, nil
}

func (f *fakeIssuer) set(report models.StatusReport, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = report
	f.err = err
}

// fakeStream is a push stream fed by the test.
type fakeStream struct {
	events    chan *models.StatusReport
	closed    chan struct{}
	closeOnce sync.Once
	pings     atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan *models.StatusReport, 4),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next() (*models.StatusReport, error) {
	select {
	case report := <-s.events:
		return report, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Ping() error {
	s.pings.Add(1)
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeTransport opens fakeStreams, failing the first failures attempts.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	openErr  error
	streams  []*fakeStream
	opens    atomic.Int32
}

func (f *fakeTransport) Open(ctx context.Context, tokenID string) (PushStream, error) {
	f.opens.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection refused")
	}
	stream := newFakeStream()
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeTransport) latest() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

// recordingSink counts deliveries.
type recordingSink struct {
	mu      sync.Mutex
	bundles []*models.CredentialBundle
}

func (s *recordingSink) Accept(b *models.CredentialBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles = append(s.bundles, b)
	return nil
}

func (s *recordingSink) delivered() []*models.CredentialBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.CredentialBundle(nil), s.bundles...)
}
