package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenKeyFetcher defines interface for retrieving user's TokenKey
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenManager issues and validates the JWT pair inside a CredentialBundle
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	userRepo           UserTokenKeyFetcher
	clk                clock.Clock
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, clk clock.Clock) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		clk:                clk,
	}
}

// SetUserRepo enables composite signing with per-user TokenKey
func (tm *TokenManager) SetUserRepo(repo UserTokenKeyFetcher) {
	tm.userRepo = repo
}

// signingKey is global_secret + user.TokenKey, or the global secret alone
// when no repository is configured.
func (tm *TokenManager) signingKey(ctx context.Context, userID string) ([]byte, error) {
	if tm.userRepo == nil {
		return []byte(tm.secret), nil
	}

	user, err := tm.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return []byte(tm.secret + user.TokenKey), nil
}

func (tm *TokenManager) sign(user *models.User, tokenType string, expiry time.Duration) (string, time.Time, error) {
	now := tm.clk.Now()
	expiresAt := now.Add(expiry)

	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	key := []byte(tm.secret)
	if tm.userRepo != nil {
		key = []byte(tm.secret + user.TokenKey)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// IssueBundle creates a fresh access/refresh pair for user.
func (tm *TokenManager) IssueBundle(user *models.User) (*models.CredentialBundle, error) {
	access, expiresAt, err := tm.sign(user, models.TokenTypeAccess, tm.accessTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, _, err := tm.sign(user, models.TokenTypeRefresh, tm.refreshTokenExpiry)
	if err != nil {
		return nil, err
	}

	return &models.CredentialBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateToken verifies a token of the given type and returns its claims
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString, tokenType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		parsed, ok := token.Claims.(*models.TokenClaims)
		if !ok || parsed.UserID == "" {
			return nil, fmt.Errorf("token has no subject")
		}
		return tm.signingKey(ctx, parsed.UserID)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.clk.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}
	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", models.ErrUnauthorized, tokenType)
	}

	return claims, nil
}
