package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

const minPasswordLength = 8

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type UserService struct {
	store UserStore
}

func NewUserService(store UserStore) *UserService {
	return &UserService{store: store}
}

// Signup registers a new account. The email is stored lower-cased.
func (s *UserService) Signup(ctx context.Context, firstName, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("email: %w", apperrors.ErrInvalidArgument)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, apperrors.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		FirstName:    strings.TrimSpace(firstName),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns ErrUnauthorized for both an unknown email and a wrong password.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.ErrUnauthorized
	}
	return u, nil
}
