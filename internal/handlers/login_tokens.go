package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/BradenHooton/tokenlink/internal/services"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
)

// LoginTokenServiceInterface defines the login-token operations the
// handlers need
type LoginTokenServiceInterface interface {
	Issue(ctx context.Context, req services.IssueRequest) (*services.IssuedToken, error)
	Get(ctx context.Context, tokenID string) (*models.LoginTokenRecord, error)
	Authorize(ctx context.Context, tokenID, pollSecret string) (*models.LoginTokenRecord, error)
	Confirm(ctx context.Context, tokenID, userID, verifyCode, clientIP string) error
	Redeem(ctx context.Context, tokenID, secret, clientIP string) error
	Cancel(ctx context.Context, tokenID, pollSecret string) error
	ConfirmURL(tokenID string) string
}

// LoginTokenHandler serves the login-token endpoints
type LoginTokenHandler struct {
	service  LoginTokenServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewLoginTokenHandler creates a new LoginTokenHandler
func NewLoginTokenHandler(service LoginTokenServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *LoginTokenHandler {
	return &LoginTokenHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// IssueLoginTokenRequest represents the request body for a new login token
type IssueLoginTokenRequest struct {
	Channel string `json:"channel" validate:"required,oneof=qr email"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
}

// IssueLoginTokenResponse is returned with 201. PollSecret is sent as a
// Bearer credential on status, events and cancel.
type IssueLoginTokenResponse struct {
	TokenID        string             `json:"token_id"`
	PollSecret     string             `json:"poll_secret"`
	Channel        models.ChannelKind `json:"channel"`
	VerifyCode     string             `json:"verify_code"`
	TTLSeconds     int                `json:"ttl_seconds"`
	IssuedAt       time.Time          `json:"issued_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	PollIntervalMS int                `json:"poll_interval_ms"`
	ConfirmURL     string             `json:"confirm_url"`
}

// ConfirmLoginTokenRequest is the optional body of a confirmation
type ConfirmLoginTokenRequest struct {
	VerifyCode string `json:"verify_code" validate:"omitempty,verifycode"`
}

// RedeemLoginTokenRequest carries the magic-link secret
type RedeemLoginTokenRequest struct {
	Secret string `json:"secret" validate:"required,max=128"`
}

// Issue creates a login token
// @Router /login-tokens [post]
func (h *LoginTokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueLoginTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	issued, err := h.service.Issue(r.Context(), services.IssueRequest{
		Channel:   models.ChannelKind(req.Channel),
		Email:     req.Email,
		ClientIP:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.UserAgent(r),
	})
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusCreated, IssueLoginTokenResponse{
		TokenID:        issued.ID,
		PollSecret:     issued.PollSecret,
		Channel:        issued.Channel,
		VerifyCode:     issued.VerifyCode,
		TTLSeconds:     int(issued.TTL() / time.Second),
		IssuedAt:       issued.IssuedAt,
		ExpiresAt:      issued.ExpiresAt,
		PollIntervalMS: int(issued.PollInterval / time.Millisecond),
		ConfirmURL:     issued.ConfirmURL,
	})
}

// pollSecret is the Bearer credential handed out by Issue.
func pollSecret(r *http.Request) string {
	secret, _ := auth.BearerToken(r)
	return secret
}

// Status answers a poll from the device holding the poll secret
// @Router /login-tokens/{id} [get]
func (h *LoginTokenHandler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Authorize(r.Context(), chi.URLParam(r, "id"), pollSecret(r))
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, services.ReportFor(rec))
}

// QRCode renders the confirm URL of a pending token
// @Router /login-tokens/{id}/qr.png [get]
func (h *LoginTokenHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}
	if rec.Status != models.LoginTokenPending {
		pkghttp.WriteGone(w, "Login token is no longer pending")
		return
	}

	png, err := auth.QRCodePNG(h.service.ConfirmURL(rec.ID))
	if err != nil {
		h.logger.Error("failed to render QR code", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Confirm approves a token for the authenticated caller
// @Router /login-tokens/{id}/confirm [post]
func (h *LoginTokenHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmLoginTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.VerifyCode,
		pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Redeem confirms an email token from its magic link. GET serves the link
// itself, POST takes the secret as JSON.
// @Router /login-tokens/{id}/redeem [get,post]
func (h *LoginTokenHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemLoginTokenRequest
	if r.Method == http.MethodGet {
		req.Secret = r.URL.Query().Get("secret")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	err := h.service.Redeem(r.Context(), chi.URLParam(r, "id"), req.Secret, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "You are signed in on your device. You can close this window.\n")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel withdraws a pending token
// @Router /login-tokens/{id} [delete]
func (h *LoginTokenHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), pollSecret(r)); err != nil {
		writeLoginTokenError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeLoginTokenError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrTokenNotFound), errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Login token not found")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteGone(w, "Login token expired")
	case errors.Is(err, models.ErrTokenAlreadyUsed):
		pkghttp.WriteConflict(w, "Login token already confirmed")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, "Login token cannot be confirmed by this account")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrIssuerUnavailable):
		logger.Error("login token issue failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Login token could not be issued")
	default:
		logger.Error("login token request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
