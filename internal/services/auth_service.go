package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/governor"
	"github.com/BradenHooton/tokenlink/internal/models"
	pkgauth "github.com/BradenHooton/tokenlink/pkg/auth"
	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

// AttemptGovernor gates password attempts per identity
type AttemptGovernor interface {
	Allow(ctx context.Context, key string) error
	Record(ctx context.Context, key string, outcome models.AttemptOutcome, identityHint string) error
}

var _ AttemptGovernor = (*governor.Keyed)(nil)

// LoginRequest carries one password attempt
type LoginRequest struct {
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// AuthService handles password login and token refresh
type AuthService struct {
	repo        UserRepository
	tm          *auth.TokenManager
	governor    AttemptGovernor
	timingDelay *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService. timingDelay may be nil.
func NewAuthService(repo UserRepository, tm *auth.TokenManager, governor AttemptGovernor, timingDelay *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		tm:          tm,
		governor:    governor,
		timingDelay: timingDelay,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Login authenticates by password. A locked-out email gets a
// *governor.LockedOutError before any password work is done.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.CredentialBundle, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	if err := s.governor.Allow(ctx, email); err != nil {
		var locked *governor.LockedOutError
		if errors.As(err, &locked) {
			s.logger.Info("login refused: locked out", slog.Int("retry_after_seconds", locked.RetryAfterSeconds()))
			s.auditLogger.Log(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventLockout,
				Email:         email,
				IPAddress:     req.ClientIP,
				FailureReason: "locked_out",
			})
			return nil, err
		}
		// A broken lockout store must not become a way around it.
		s.logger.Error("lockout check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	startTime := s.timingDelay.Begin()

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by email", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		pkgauth.CompareDummy(req.Password)
		return nil, s.fail(ctx, startTime, email, "", req, "invalid_credentials")
	}

	if user.PasswordHash == "" {
		pkgauth.CompareDummy(req.Password)
		return nil, s.fail(ctx, startTime, email, user.ID, req, "no_password")
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		return nil, s.fail(ctx, startTime, email, user.ID, req, "invalid_credentials")
	}

	// The password was right; account state is not a guessing signal.
	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.auditLogger.LogPasswordAttempt(ctx, email, user.ID, req.ClientIP, req.UserAgent, false, "account_blocked")
		return nil, err
	}

	bundle, err := s.tm.IssueBundle(user)
	if err != nil {
		s.logger.Error("failed to issue credential bundle", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.governor.Record(ctx, email, models.AttemptSuccess, user.ID); err != nil {
		s.logger.Warn("failed to record successful attempt", slog.Any("error", err))
	}
	s.timingDelay.WaitFrom(ctx, startTime, true)

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogPasswordAttempt(ctx, email, user.ID, req.ClientIP, req.UserAgent, true, "")

	return bundle, nil
}

func (s *AuthService) fail(ctx context.Context, startTime time.Time, email, userID string, req LoginRequest, reason string) error {
	if err := s.governor.Record(ctx, email, models.AttemptFailure, userID); err != nil {
		s.logger.Warn("failed to record failed attempt", slog.Any("error", err))
	}
	s.timingDelay.WaitFrom(ctx, startTime, false)

	s.logger.Info("login failed: invalid credentials")
	s.auditLogger.LogPasswordAttempt(ctx, email, userID, req.ClientIP, req.UserAgent, false, reason)
	return models.ErrUnauthorized
}

// Refresh exchanges a refresh token for a new bundle
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.CredentialBundle, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("token refresh blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, models.ErrUnauthorized
	}

	bundle, err := s.tm.IssueBundle(user)
	if err != nil {
		s.logger.Error("failed to issue credential bundle", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventTokenRefresh,
		UserID:    user.ID,
		Success:   true,
	})

	return bundle, nil
}

// validateAccountState checks if user account is in valid state for authentication
func validateAccountState(user *models.User) error {
	switch user.Status {
	case models.UserStatusDisabled:
		return models.ErrAccountDisabled
	case models.UserStatusSuspended:
		return models.ErrAccountSuspended
	case models.UserStatusActive:
		return nil
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}
}
