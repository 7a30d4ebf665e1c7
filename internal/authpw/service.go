// Package authpw provides email/password credential handling.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cirrusdocs/api/internal/store"
	"cirrusdocs/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken is returned when the registration email already has an
	// account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown users and wrong passwords;
	// callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore defines the storage interface for credentials.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (string, error)
}

// Service registers users and verifies logins.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Register creates a new user account and returns the inserted id. The
// password is hashed before it reaches storage; the plaintext is never
// persisted anywhere.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return "", ErrEmailTaken
	}
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// Verify checks a login attempt and returns the user on success.
func (s *Service) Verify(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
