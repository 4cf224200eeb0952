package service

import (
	"context"
	"fmt"
	"strings"

	"chatcore/internal/domain"
	"chatcore/internal/security"
)

// AuthService handles registration and login for the HTTP surface.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hasher *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hasher *security.PasswordHasher) *AuthService {
	return &AuthService{users: users, tokens: tokens, hasher: hasher}
}

type RegisterInput struct {
	Username string
	Email    *string
	Password string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	if len(username) < 3 || len(username) > 50 {
		return nil, fmt.Errorf("%w: username must be 3-50 characters", domain.ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", domain.ErrInvalidInput)
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrConflict
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:       username,
		Email:          in.Email,
		HashedPassword: hashed,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and returns a signed session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || !user.IsActive || !s.hasher.Verify(user.HashedPassword, password) {
		return "", nil, domain.ErrUnauthorized
	}

	tok, err := s.tokens.CreateForUser(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("create token: %w", err)
	}
	return tok, user, nil
}
