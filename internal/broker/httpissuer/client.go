// Package httpissuer talks to the tokenlink API: it implements broker.Issuer
// over HTTP and broker.PushTransport over a websocket.
package httpissuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/models"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
)

// Client is an HTTP client for the login-token endpoints. It remembers the
// poll secret of every token it issued and presents it on status, events
// and cancel.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	pollSecrets map[string]string
}

// New creates a client for the API at baseURL. timeout bounds every request
// that is not already bounded by its context.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		pollSecrets: make(map[string]string),
	}
}

func (c *Client) pollSecret(tokenID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollSecrets[tokenID]
}

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes onto model errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusUnauthorized:
		return models.ErrUnauthorized
	case http.StatusForbidden:
		return models.ErrForbidden
	case http.StatusConflict:
		return models.ErrTokenAlreadyUsed
	case http.StatusGone:
		return models.ErrTokenExpired
	case http.StatusTooManyRequests:
		return models.ErrLockedOut
	case http.StatusBadRequest:
		return models.ErrBadRequest
	}
	return nil
}

type issueRequest struct {
	Channel models.ChannelKind `json:"channel"`
	Email   string             `json:"email,omitempty"`
}

// IssueResponse is the body of POST /login-tokens.
type IssueResponse struct {
	TokenID        string             `json:"token_id"`
	PollSecret     string             `json:"poll_secret"`
	Channel        models.ChannelKind `json:"channel"`
	VerifyCode     string             `json:"verify_code"`
	TTLSeconds     int                `json:"ttl_seconds"`
	IssuedAt       time.Time          `json:"issued_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	PollIntervalMS int                `json:"poll_interval_ms"`
}

// Issue creates a login token.
func (c *Client) Issue(ctx context.Context, kind models.ChannelKind, identityHint string) (*models.LoginToken, error) {
	var resp IssueResponse
	if err := c.do(ctx, http.MethodPost, "/login-tokens", "", issueRequest{Channel: kind, Email: identityHint}, http.StatusCreated, &resp); err != nil {
		return nil, fmt.Errorf("issue login token: %w", err)
	}
	if resp.TokenID == "" || resp.PollSecret == "" || resp.TTLSeconds <= 0 {
		return nil, fmt.Errorf("issue login token: malformed response")
	}

	c.mu.Lock()
	c.pollSecrets[resp.TokenID] = resp.PollSecret
	c.mu.Unlock()

	return &models.LoginToken{
		ID:         resp.TokenID,
		Channel:    resp.Channel,
		Status:     models.LoginTokenPending,
		VerifyCode: resp.VerifyCode,
		IssuedAt:   resp.IssuedAt,
		ExpiresAt:  resp.IssuedAt.Add(time.Duration(resp.TTLSeconds) * time.Second),
	}, nil
}

// QueryStatus returns the token's status. A 404 is reported as
// models.LoginTokenNotFound rather than an error; the server answers 404
// for tokens this client did not issue.
func (c *Client) QueryStatus(ctx context.Context, tokenID string) (*models.StatusReport, error) {
	var report models.StatusReport
	err := c.do(ctx, http.MethodGet, "/login-tokens/"+url.PathEscape(tokenID), c.pollSecret(tokenID), nil, http.StatusOK, &report)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return &models.StatusReport{Status: models.LoginTokenNotFound}, nil
		}
		return nil, fmt.Errorf("query login token: %w", err)
	}
	return &report, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges an email and password for a credential bundle. A lockout
// is returned as an *APIError with RetryAfter set.
func (c *Client) Login(ctx context.Context, email, password string) (*models.CredentialBundle, error) {
	var bundle models.CredentialBundle
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password}, http.StatusOK, &bundle); err != nil {
		return nil, fmt.Errorf("password login: %w", err)
	}
	return &bundle, nil
}

type confirmRequest struct {
	VerifyCode string `json:"verify_code,omitempty"`
}

// Confirm approves a login token from an already signed-in device.
// verifyCode may be empty; when set the server checks it against the code
// the waiting device shows.
func (c *Client) Confirm(ctx context.Context, tokenID, accessToken, verifyCode string) error {
	path := "/login-tokens/" + url.PathEscape(tokenID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, accessToken, confirmRequest{VerifyCode: verifyCode}, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("confirm login token: %w", err)
	}
	return nil
}

// Cancel withdraws a pending token so a leaked QR code cannot be approved
// after the device gave up on it.
func (c *Client) Cancel(ctx context.Context, tokenID string) error {
	if err := c.do(ctx, http.MethodDelete, "/login-tokens/"+url.PathEscape(tokenID), c.pollSecret(tokenID), nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("cancel login token: %w", err)
	}
	c.Forget(tokenID)
	return nil
}

// Forget drops the poll secret of a token the caller is done with.
func (c *Client) Forget(tokenID string) {
	c.mu.Lock()
	delete(c.pollSecrets, tokenID)
	c.mu.Unlock()
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.CredentialBundle, error) {
	var bundle models.CredentialBundle
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, http.StatusOK, &bundle); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &bundle, nil
}

// ConfirmURL is the link a signed-in device opens to approve tokenID. It is
// what the QR code encodes.
func (c *Client) ConfirmURL(tokenID string) string {
	return c.baseURL + "/login-tokens/" + url.PathEscape(tokenID) + "/confirm"
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body pkghttp.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
