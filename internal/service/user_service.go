package service

import (
	"context"
	"errors"
	"strings"

	"github.com/modelforge/internal/auth"
	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
)

// CredentialsInput is the body of register and login requests
type CredentialsInput struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// UserService registers and authenticates users
type UserService struct {
	store  storage.Store
	logger *logging.Logger
}

// NewUserService creates a user service
func NewUserService(store storage.Store, logger *logging.Logger) *UserService {
	return &UserService{store: store, logger: logger.WithComponent("user-service")}
}

// Register creates a user with a bcrypt password hash
func (s *UserService) Register(ctx context.Context, in CredentialsInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to register user", err)
	}

	u, err := s.store.CreateUser(ctx, in.Username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperrors.NewValidationError("Username already exists", map[string]string{"username": "is already taken"})
		}
		return nil, apperrors.NewInternalError("Failed to register user", err)
	}

	s.logger.WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

// Login checks credentials. Unknown users and wrong passwords are indistinguishable.
func (s *UserService) Login(ctx context.Context, in CredentialsInput) (*models.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewUnauthorizedError("Invalid username or password")
		}
		return nil, apperrors.NewInternalError("Failed to log in", err)
	}
	if err := auth.CheckPassword(u.PasswordHash, in.Password); err != nil {
		return nil, apperrors.NewUnauthorizedError("Invalid username or password")
	}
	return u, nil
}

// Get returns a user by id
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, "User", id)
	}
	return u, nil
}
