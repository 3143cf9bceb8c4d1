package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/events"
	"github.com/BradenHooton/tokenlink/internal/models"
	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

// UserRepository defines the user lookups the services need
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginTokenRepository defines persistence for login tokens
type LoginTokenRepository interface {
	Create(ctx context.Context, rec *models.LoginTokenRecord) error
	GetByID(ctx context.Context, id string) (*models.LoginTokenRecord, error)
	Confirm(ctx context.Context, id, userID string, bundle *models.CredentialBundle, now time.Time) (*models.LoginTokenRecord, error)
	Cancel(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// BundleIssuer mints the credential bundle handed over on confirmation
type BundleIssuer interface {
	IssueBundle(user *models.User) (*models.CredentialBundle, error)
}

// LoginTokenConfig holds issuing parameters
type LoginTokenConfig struct {
	TTL           time.Duration
	PollInterval  time.Duration
	PublicBaseURL string
}

// IssueRequest is a validated request for a new login token
type IssueRequest struct {
	Channel   models.ChannelKind
	Email     string
	ClientIP  string
	UserAgent string
}

// IssuedToken is what the device learns about a new token. PollSecret is
// returned here and nowhere else.
type IssuedToken struct {
	models.LoginToken
	PollSecret   string
	PollInterval time.Duration
	ConfirmURL   string
}

// LoginTokenService issues login tokens and settles them
type LoginTokenService struct {
	repo        LoginTokenRepository
	users       UserRepository
	bundles     BundleIssuer
	notifier    events.Notifier
	email       EmailService
	clk         clock.Clock
	config      LoginTokenConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewLoginTokenService creates a LoginTokenService. email may be nil, in
// which case the email channel is refused.
func NewLoginTokenService(
	repo LoginTokenRepository,
	users UserRepository,
	bundles BundleIssuer,
	notifier events.Notifier,
	email EmailService,
	clk clock.Clock,
	config LoginTokenConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *LoginTokenService {
	return &LoginTokenService{
		repo:        repo,
		users:       users,
		bundles:     bundles,
		notifier:    notifier,
		email:       email,
		clk:         clk,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// ConfirmURL is the address encoded in the QR code.
func (s *LoginTokenService) ConfirmURL(tokenID string) string {
	return fmt.Sprintf("%s/login-tokens/%s/confirm", s.config.PublicBaseURL, url.PathEscape(tokenID))
}

func (s *LoginTokenService) redeemURL(tokenID, secret string) string {
	return fmt.Sprintf("%s/login-tokens/%s/redeem?secret=%s",
		s.config.PublicBaseURL, url.PathEscape(tokenID), url.QueryEscape(secret))
}

// Issue creates a pending login token. For the email channel the response
// is identical whether or not the address belongs to an account; mail only
// goes out when it does.
func (s *LoginTokenService) Issue(ctx context.Context, req IssueRequest) (*IssuedToken, error) {
	if req.Channel == models.ChannelEmail && s.email == nil {
		return nil, fmt.Errorf("%w: email channel is disabled", models.ErrBadRequest)
	}

	id, err := auth.NewTokenID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}
	verifySecret, err := auth.NewVerifySecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}
	code, err := auth.VerifyCode(verifySecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}
	pollSecret, err := auth.NewPollSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}

	now := s.clk.Now().UTC()
	rec := &models.LoginTokenRecord{
		LoginToken: models.LoginToken{
			ID:         id,
			Channel:    req.Channel,
			Status:     models.LoginTokenPending,
			VerifyCode: code,
			IssuedAt:   now,
			ExpiresAt:  now.Add(s.config.TTL),
		},
		VerifySecret:   verifySecret,
		PollSecretHash: auth.HashSecret(pollSecret),
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
	}

	var recipient *models.User
	var linkSecret string
	if req.Channel == models.ChannelEmail {
		recipient, err = s.lookupRecipient(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		if recipient != nil {
			linkSecret, err = auth.NewLinkSecret()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
			}
			hash := auth.HashSecret(linkSecret)
			rec.LinkSecretHash = &hash
			rec.UserID = &recipient.ID
		}
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("failed to store login token", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}

	if recipient != nil {
		msg := LoginLinkEmail{
			Link:       s.redeemURL(id, linkSecret),
			VerifyCode: code,
			ExpiresAt:  rec.ExpiresAt,
		}
		if err := s.email.SendLoginLink(ctx, recipient.Email, msg); err != nil {
			_ = s.repo.Cancel(ctx, id)
			return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
		}
	}

	s.logger.Info("login token issued",
		slog.String("token_id", pkglogger.TokenIDPrefix(id)),
		slog.String("channel", string(req.Channel)),
		slog.Duration("ttl", s.config.TTL))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginTokenIssued,
		TokenID:   id,
		Email:     req.Email,
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"channel": string(req.Channel)},
	})

	return &IssuedToken{
		LoginToken:   rec.LoginToken,
		PollSecret:   pollSecret,
		PollInterval: s.config.PollInterval,
		ConfirmURL:   s.ConfirmURL(id),
	}, nil
}

// lookupRecipient returns nil, nil for unknown or blocked accounts.
func (s *LoginTokenService) lookupRecipient(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required for the email channel", models.ErrBadRequest)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Info("email login token for unknown address; no mail sent")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIssuerUnavailable, err)
	}
	if validateAccountState(user) != nil {
		s.logger.Info("email login token for blocked account; no mail sent", slog.String("user_id", user.ID))
		return nil, nil
	}
	return user, nil
}

// Get returns the token with its effective status.
func (s *LoginTokenService) Get(ctx context.Context, tokenID string) (*models.LoginTokenRecord, error) {
	rec, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	rec.Status = rec.EffectiveStatus(s.clk.Now())
	return rec, nil
}

// Authorize returns the token when pollSecret is the one handed out at
// issue time. A wrong secret looks exactly like an unknown id.
func (s *LoginTokenService) Authorize(ctx context.Context, tokenID, pollSecret string) (*models.LoginTokenRecord, error) {
	rec, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if pollSecret == "" || !auth.SecretMatches(pollSecret, rec.PollSecretHash) {
		return nil, models.ErrTokenNotFound
	}
	return rec, nil
}

// Status answers a poll. Credentials are included only once confirmed.
func (s *LoginTokenService) Status(ctx context.Context, tokenID, pollSecret string) (models.StatusReport, error) {
	rec, err := s.Authorize(ctx, tokenID, pollSecret)
	if err != nil {
		return models.StatusReport{}, err
	}
	return ReportFor(rec), nil
}

// ReportFor builds the wire report for rec.
func ReportFor(rec *models.LoginTokenRecord) models.StatusReport {
	report := models.StatusReport{Status: rec.Status}
	if rec.Status == models.LoginTokenConfirmed {
		report.Credentials = rec.Credentials
	}
	return report
}

// Confirm binds the token to an authenticated user. verifyCode is optional;
// when given it must match the code the device displays.
func (s *LoginTokenService) Confirm(ctx context.Context, tokenID, userID, verifyCode, clientIP string) error {
	rec, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}

	if verifyCode != "" && !auth.CheckVerifyCode(rec.VerifySecret, verifyCode) {
		s.reject(ctx, tokenID, userID, clientIP, "verify_code_mismatch")
		return fmt.Errorf("%w: verify code does not match", models.ErrForbidden)
	}
	if rec.UserID != nil && *rec.UserID != userID {
		s.reject(ctx, tokenID, userID, clientIP, "bound_to_other_user")
		return fmt.Errorf("%w: token belongs to another account", models.ErrForbidden)
	}

	return s.settle(ctx, rec, userID, clientIP)
}

// Redeem confirms an email token with the secret from its magic link. A
// wrong secret is indistinguishable from an unknown token.
func (s *LoginTokenService) Redeem(ctx context.Context, tokenID, secret, clientIP string) error {
	rec, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}

	if rec.LinkSecretHash == nil || rec.UserID == nil || !auth.SecretMatches(secret, *rec.LinkSecretHash) {
		s.reject(ctx, tokenID, "", clientIP, "bad_link_secret")
		return models.ErrTokenNotFound
	}

	return s.settle(ctx, rec, *rec.UserID, clientIP)
}

func (s *LoginTokenService) settle(ctx context.Context, rec *models.LoginTokenRecord, userID, clientIP string) error {
	now := s.clk.Now()
	switch rec.EffectiveStatus(now) {
	case models.LoginTokenConfirmed:
		return models.ErrTokenAlreadyUsed
	case models.LoginTokenExpired, models.LoginTokenCancelled:
		s.reject(ctx, rec.ID, userID, clientIP, "expired")
		return models.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return err
	}
	if err := validateAccountState(user); err != nil {
		s.reject(ctx, rec.ID, userID, clientIP, "account_blocked")
		return err
	}

	bundle, err := s.bundles.IssueBundle(user)
	if err != nil {
		s.logger.Error("failed to issue credential bundle", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.repo.Confirm(ctx, rec.ID, user.ID, bundle, now); err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			s.reject(ctx, rec.ID, userID, clientIP, "expired")
		}
		return err
	}

	// Pollers still see the confirmation if the publish is lost.
	report := models.StatusReport{Status: models.LoginTokenConfirmed, Credentials: bundle}
	if err := s.notifier.Publish(ctx, rec.ID, report); err != nil {
		s.logger.Warn("failed to publish login token confirmation",
			slog.String("token_id", pkglogger.TokenIDPrefix(rec.ID)),
			slog.Any("error", err))
	}

	s.logger.Info("login token confirmed",
		slog.String("token_id", pkglogger.TokenIDPrefix(rec.ID)),
		slog.String("user_id", user.ID))
	s.auditLogger.LogLoginToken(ctx, pkglogger.EventLoginTokenConfirmed, rec.ID, user.ID, clientIP, true, "")

	return nil
}

func (s *LoginTokenService) reject(ctx context.Context, tokenID, userID, clientIP, reason string) {
	s.auditLogger.LogLoginToken(ctx, pkglogger.EventLoginTokenRejected, tokenID, userID, clientIP, false, reason)
}

// Cancel withdraws a pending token and tells anyone waiting on it. Only
// the holder of the poll secret may cancel.
func (s *LoginTokenService) Cancel(ctx context.Context, tokenID, pollSecret string) error {
	if _, err := s.Authorize(ctx, tokenID, pollSecret); err != nil {
		return err
	}
	if err := s.repo.Cancel(ctx, tokenID); err != nil {
		return err
	}

	rec, err := s.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if rec.Status != models.LoginTokenCancelled {
		return nil
	}

	if err := s.notifier.Publish(ctx, tokenID, models.StatusReport{Status: models.LoginTokenCancelled}); err != nil {
		s.logger.Warn("failed to publish login token cancellation",
			slog.String("token_id", pkglogger.TokenIDPrefix(tokenID)),
			slog.Any("error", err))
	}
	return nil
}

// Cleanup deletes tokens that expired more than retention ago.
func (s *LoginTokenService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clk.Now().Add(-retention))
}
