package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tokenlink/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository implements UserStore for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)

	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return models.ErrInternalServer
}

// usersOf returns a MockUserRepository serving the given users
func usersOf(users ...*models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			for _, u := range users {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
	}
}

// MockLoginTokenRepository keeps records in memory. Any XxxFunc set
// replaces the in-memory behavior for that method.
type MockLoginTokenRepository struct {
	CreateFunc        func(ctx context.Context, rec *models.LoginTokenRecord) error
	ConfirmFunc       func(ctx context.Context, id, userID string, bundle *models.CredentialBundle, now time.Time) (*models.LoginTokenRecord, error)
	DeleteExpiredFunc func(ctx context.Context, cutoff time.Time) (int64, error)

	mu      sync.Mutex
	records map[string]*models.LoginTokenRecord
}

func (m *MockLoginTokenRepository) Create(ctx context.Context, rec *models.LoginTokenRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*models.LoginTokenRecord)
	}
	if _, ok := m.records[rec.ID]; ok {
		return models.ErrConflict
	}
	clone := *rec
	m.records[rec.ID] = &clone
	return nil
}

func (m *MockLoginTokenRepository) GetByID(ctx context.Context, id string) (*models.LoginTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrTokenNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MockLoginTokenRepository) Confirm(ctx context.Context, id, userID string, bundle *models.CredentialBundle, now time.Time) (*models.LoginTokenRecord, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, id, userID, bundle, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrTokenNotFound
	}
	switch rec.EffectiveStatus(now) {
	case models.LoginTokenConfirmed:
		return nil, models.ErrTokenAlreadyUsed
	case models.LoginTokenExpired, models.LoginTokenCancelled:
		return nil, models.ErrTokenExpired
	}
	rec.Status = models.LoginTokenConfirmed
	rec.UserID = &userID
	rec.Credentials = bundle
	rec.ConfirmedAt = &now
	clone := *rec
	return &clone, nil
}

func (m *MockLoginTokenRepository) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return models.ErrTokenNotFound
	}
	if rec.Status == models.LoginTokenPending {
		rec.Status = models.LoginTokenCancelled
	}
	return nil
}

func (m *MockLoginTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, cutoff)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// MockEmailService records sent login links
type MockEmailService struct {
	SendLoginLinkFunc func(ctx context.Context, email string, msg LoginLinkEmail) error

	mu   sync.Mutex
	Sent []LoginLinkEmail
	To   []string
}

func (m *MockEmailService) SendLoginLink(ctx context.Context, email string, msg LoginLinkEmail) error {
	if m.SendLoginLinkFunc != nil {
		if err := m.SendLoginLinkFunc(ctx, email, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	m.To = append(m.To, email)
	return nil
}

// MockBundleIssuer returns deterministic bundles
type MockBundleIssuer struct {
	IssueBundleFunc func(user *models.User) (*models.CredentialBundle, error)
}

func (m *MockBundleIssuer) IssueBundle(user *models.User) (*models.CredentialBundle, error) {
	if m.IssueBundleFunc != nil {
		return m.IssueBundleFunc(user)
	}
	return &models.CredentialBundle{
		AccessToken:  "access-" + user.ID,
		RefreshToken: "refresh-" + user.ID,
		UserID:       user.ID,
		Email:        user.Email,
	}, nil
}

// MockAttemptGovernor implements AttemptGovernor for testing
type MockAttemptGovernor struct {
	AllowFunc  func(ctx context.Context, key string) error
	RecordFunc func(ctx context.Context, key string, outcome models.AttemptOutcome, identityHint string) error

	mu       sync.Mutex
	Outcomes []models.AttemptOutcome
}

func (m *MockAttemptGovernor) Allow(ctx context.Context, key string) error {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key)
	}
	return nil
}

func (m *MockAttemptGovernor) Record(ctx context.Context, key string, outcome models.AttemptOutcome, identityHint string) error {
	m.mu.Lock()
	m.Outcomes = append(m.Outcomes, outcome)
	m.mu.Unlock()
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, key, outcome, identityHint)
	}
	return nil
}

// NewTestUser returns an active user
func NewTestUser(id, email, name string) *models.User {
	return &models.User{
		ID:        id,
		Email:     email,
		Name:      name,
		TokenKey:  "test-token-key-" + id,
		Status:    models.UserStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// NewTestUserWithPassword returns an active user whose hash uses the
// minimum bcrypt cost to keep tests fast
func NewTestUserWithPassword(id, email, name, password string) *models.User {
	user := NewTestUser(id, email, name)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	user.PasswordHash = string(hash)
	return user
}

// NewTestUserWithStatus returns a user with the given account status
func NewTestUserWithStatus(id, email, name, status string) *models.User {
	user := NewTestUser(id, email, name)
	user.Status = status
	return user
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
