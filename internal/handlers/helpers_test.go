package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/BradenHooton/tokenlink/internal/services"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithUser(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc   func(ctx context.Context, req services.LoginRequest) (*models.CredentialBundle, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*models.CredentialBundle, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*models.CredentialBundle, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.CredentialBundle, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	GetUserByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserByIDFunc(ctx, id)
}

// TestPollSecret is the poll secret MockLoginTokenService accepts when
// AuthorizeFunc is unset.
const TestPollSecret = "poll-secret-for-tests"

// WithPollSecret sets the Bearer poll secret on req.
func WithPollSecret(req *http.Request, secret string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+secret)
	return req
}

// MockLoginTokenService implements LoginTokenServiceInterface for testing
type MockLoginTokenService struct {
	IssueFunc     func(ctx context.Context, req services.IssueRequest) (*services.IssuedToken, error)
	GetFunc       func(ctx context.Context, tokenID string) (*models.LoginTokenRecord, error)
	AuthorizeFunc func(ctx context.Context, tokenID, pollSecret string) (*models.LoginTokenRecord, error)
	ConfirmFunc   func(ctx context.Context, tokenID, userID, verifyCode, clientIP string) error
	RedeemFunc    func(ctx context.Context, tokenID, secret, clientIP string) error
	CancelFunc    func(ctx context.Context, tokenID, pollSecret string) error
}

func (m *MockLoginTokenService) Issue(ctx context.Context, req services.IssueRequest) (*services.IssuedToken, error) {
	if m.IssueFunc == nil {
		return nil, models.ErrIssuerUnavailable
	}
	return m.IssueFunc(ctx, req)
}

func (m *MockLoginTokenService) Get(ctx context.Context, tokenID string) (*models.LoginTokenRecord, error) {
	if m.GetFunc == nil {
		return nil, models.ErrTokenNotFound
	}
	return m.GetFunc(ctx, tokenID)
}

// Authorize falls back to Get and accepts only TestPollSecret.
func (m *MockLoginTokenService) Authorize(ctx context.Context, tokenID, pollSecret string) (*models.LoginTokenRecord, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, tokenID, pollSecret)
	}
	rec, err := m.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if pollSecret != TestPollSecret {
		return nil, models.ErrTokenNotFound
	}
	return rec, nil
}

func (m *MockLoginTokenService) Confirm(ctx context.Context, tokenID, userID, verifyCode, clientIP string) error {
	if m.ConfirmFunc == nil {
		return models.ErrTokenNotFound
	}
	return m.ConfirmFunc(ctx, tokenID, userID, verifyCode, clientIP)
}

func (m *MockLoginTokenService) Redeem(ctx context.Context, tokenID, secret, clientIP string) error {
	if m.RedeemFunc == nil {
		return models.ErrTokenNotFound
	}
	return m.RedeemFunc(ctx, tokenID, secret, clientIP)
}

func (m *MockLoginTokenService) Cancel(ctx context.Context, tokenID, pollSecret string) error {
	if m.CancelFunc == nil {
		return models.ErrTokenNotFound
	}
	return m.CancelFunc(ctx, tokenID, pollSecret)
}

func (m *MockLoginTokenService) ConfirmURL(tokenID string) string {
	return "https://login.example.com/login-tokens/" + tokenID + "/confirm"
}
