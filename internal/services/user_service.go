package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/BradenHooton/tokenlink/pkg/auth"
)

// UserStore adds account provisioning to UserRepository
type UserStore interface {
	UserRepository
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// UserService handles account lookups and provisioning
type UserService struct {
	repo   UserStore
	logger *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserStore, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found", slog.String("user_id", id))
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

// EnsureUser creates the account unless the email is already taken. For
// an existing account with a password given, the stored hash is replaced
// when the password differs or was hashed at an old cost; replacing it
// rotates the user's token key. It reports whether a new account was
// created.
func (s *UserService) EnsureUser(ctx context.Context, email, name, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}
	if password != "" {
		if err := auth.ValidatePassword(password); err != nil {
			return false, err
		}
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return false, s.syncPassword(ctx, existing, password)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("failed to check if user exists: %w", err)
	}

	user := &models.User{Email: email, Name: strings.TrimSpace(name)}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return false, err
		}
		user.PasswordHash = hash
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", slog.String("user_id", created.ID))
	return true, nil
}

func (s *UserService) syncPassword(ctx context.Context, user *models.User, password string) error {
	if password == "" {
		s.logger.Info("user already exists", slog.String("user_id", user.ID))
		return nil
	}
	if user.PasswordHash != "" &&
		auth.ComparePassword(user.PasswordHash, password) == nil &&
		!auth.NeedsRehash(user.PasswordHash) {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	s.logger.Info("user password updated", slog.String("user_id", user.ID))
	return nil
}
