package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
)

func newAuthService(users *MockUserRepo) *service.AuthService {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests
	return service.NewAuthService(users, tokenSvc, hasher)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)

		users.On("GetByUsername", mock.Anything, "newuser").Return(nil, nil)
		users.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.IsActive && u.HashedPassword != "Password1!"
		})).Return(nil)

		user, err := svc.Register(ctx, service.RegisterInput{
			Username: "newuser",
			Password: "Password1!",
		})
		require.NoError(t, err)
		assert.Equal(t, "newuser", user.Username)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)

		users.On("GetByUsername", mock.Anything, "existing").Return(&domain.User{Username: "existing"}, nil)

		user, err := svc.Register(ctx, service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("ShortUsername", func(t *testing.T) {
		svc := newAuthService(new(MockUserRepo))
		_, err := svc.Register(ctx, service.RegisterInput{Username: "ab", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("ShortPassword", func(t *testing.T) {
		svc := newAuthService(new(MockUserRepo))
		_, err := svc.Register(ctx, service.RegisterInput{Username: "validname", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	hasher := security.NewPasswordHasher(4)
	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)
		users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
			ID: 1, Username: "alice", HashedPassword: hashed, IsActive: true,
		}, nil)

		tok, user, err := svc.Login(ctx, "alice", "Password1!")
		require.NoError(t, err)
		assert.NotEmpty(t, tok)
		assert.Equal(t, int64(1), user.ID)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)
		users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
			ID: 1, Username: "alice", HashedPassword: hashed, IsActive: true,
		}, nil)

		_, _, err := svc.Login(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)
		users.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil)

		_, _, err := svc.Login(ctx, "ghost", "Password1!")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("InactiveUser", func(t *testing.T) {
		users := new(MockUserRepo)
		svc := newAuthService(users)
		users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
			ID: 1, Username: "alice", HashedPassword: hashed, IsActive: false,
		}, nil)

		_, _, err := svc.Login(ctx, "alice", "Password1!")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
