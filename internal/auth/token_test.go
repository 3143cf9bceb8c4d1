package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-test-secret-that-is-long-enough"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubUsers struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (s *stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.GetByIDFunc(ctx, id)
}

func testUser() *models.User {
	return &models.User{ID: "user-1", Email: "a@example.com", TokenKey: "per-user-key", Status: models.UserStatusActive}
}

func newTestManager(clk clock.Clock) *auth.TokenManager {
	return auth.NewTokenManager(testSecret, 15*time.Minute, 24*time.Hour, clk)
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	clk := clock.NewFake(epoch)
	tm := newTestManager(clk)
	ctx := context.Background()

	bundle, err := tm.IssueBundle(testUser())
	require.NoError(t, err)
	assert.Equal(t, "user-1", bundle.UserID)
	assert.Equal(t, "a@example.com", bundle.Email)
	assert.True(t, bundle.ExpiresAt.Equal(epoch.Add(15*time.Minute)))
	assert.NotEqual(t, bundle.AccessToken, bundle.RefreshToken)

	claims, err := tm.ValidateToken(ctx, bundle.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.NotEmpty(t, claims.ID)

	_, err = tm.ValidateToken(ctx, bundle.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	tm := newTestManager(clock.NewFake(epoch))

	bundle, err := tm.IssueBundle(testUser())
	require.NoError(t, err)

	_, err = tm.ValidateToken(context.Background(), bundle.RefreshToken, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	clk := clock.NewFake(epoch)
	tm := newTestManager(clk)

	bundle, err := tm.IssueBundle(testUser())
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = tm.ValidateToken(context.Background(), bundle.AccessToken, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_CompositeKey(t *testing.T) {
	clk := clock.NewFake(epoch)
	tm := newTestManager(clk)
	user := testUser()
	tm.SetUserRepo(&stubUsers{GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}})

	bundle, err := tm.IssueBundle(user)
	require.NoError(t, err)

	_, err = tm.ValidateToken(context.Background(), bundle.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)

	// Rotating the per-user key invalidates outstanding tokens.
	user.TokenKey = "rotated"
	_, err = tm.ValidateToken(context.Background(), bundle.AccessToken, models.TokenTypeAccess)
	assert.Error(t, err)

	// A token signed with the bare global secret is rejected too.
	plain := newTestManager(clk)
	forged, err := plain.IssueBundle(user)
	require.NoError(t, err)
	_, err = tm.ValidateToken(context.Background(), forged.AccessToken, models.TokenTypeAccess)
	assert.Error(t, err)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := newTestManager(clock.NewFake(epoch))
	_, err := tm.ValidateToken(context.Background(), "not-a-jwt", models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}
