package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenlink/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub Subscription) models.StatusReport {
	t.Helper()
	select {
	case report, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return report
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return models.StatusReport{}
	}
}

func assertNoEvent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case report := <-sub.Events():
		t.Fatalf("unexpected event %+v", report)
	case <-time.After(50 * time.Millisecond):
	}
}

// exerciseNotifier checks the behavior both notifiers share.
func exerciseNotifier(t *testing.T, n Notifier) {
	t.Helper()
	ctx := context.Background()

	first, err := n.Subscribe(ctx, "tok-1")
	require.NoError(t, err)
	second, err := n.Subscribe(ctx, "tok-1")
	require.NoError(t, err)
	other, err := n.Subscribe(ctx, "tok-2")
	require.NoError(t, err)
	defer other.Close()

	confirmed := models.StatusReport{
		Status:      models.LoginTokenConfirmed,
		Credentials: &models.CredentialBundle{AccessToken: "at", UserID: "u1"},
	}
	require.NoError(t, n.Publish(ctx, "tok-1", confirmed))

	for _, sub := range []Subscription{first, second} {
		got := receive(t, sub)
		assert.Equal(t, models.LoginTokenConfirmed, got.Status)
		require.NotNil(t, got.Credentials)
		assert.Equal(t, "at", got.Credentials.AccessToken)
	}
	assertNoEvent(t, other)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	require.NoError(t, n.Publish(ctx, "tok-1", models.StatusReport{Status: models.LoginTokenExpired}))
	assert.Equal(t, models.LoginTokenExpired, receive(t, second).Status)
	require.NoError(t, second.Close())
}

func TestLocalNotifier(t *testing.T) {
	n := NewLocal(testLogger())
	exerciseNotifier(t, n)
	assert.Equal(t, 1, n.topicCount(), "only tok-2 still has a subscriber")

	// Publishing to a token nobody watches is fine.
	require.NoError(t, n.Publish(context.Background(), "nobody", models.StatusReport{Status: models.LoginTokenPending}))
}

func TestLocalNotifier_ResubscribeAfterLastClose(t *testing.T) {
	n := NewLocal(testLogger())
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "tok")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, n.topicCount())

	sub, err = n.Subscribe(ctx, "tok")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, n.Publish(ctx, "tok", models.StatusReport{Status: models.LoginTokenCancelled}))
	assert.Equal(t, models.LoginTokenCancelled, receive(t, sub).Status)
	assertNoEvent(t, sub)
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedis(client, testLogger())
	t.Cleanup(func() { _ = n.Close() })

	exerciseNotifier(t, n)
}

func TestRedisNotifier_IgnoresMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedis(client, testLogger())
	t.Cleanup(func() { _ = n.Close() })
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "tok")
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish("login_token:tok", "not json")
	require.NoError(t, n.Publish(ctx, "tok", models.StatusReport{Status: models.LoginTokenExpired}))
	assert.Equal(t, models.LoginTokenExpired, receive(t, sub).Status)
}
