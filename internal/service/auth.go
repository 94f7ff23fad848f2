package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/leafguard/internal/logging"
	"github.com/iliyamo/leafguard/internal/model"
	"github.com/iliyamo/leafguard/internal/repository"
	"github.com/iliyamo/leafguard/internal/utils"
)

// msgInvalidCredentials is the single message for every failed login.
const msgInvalidCredentials = "invalid credentials"

// bcrypt only reads the first 72 bytes of a password.
const maxPasswordBytes = 72

// maxNameLength matches the users.name column.
const maxNameLength = 100

// AuthService registers users and issues session tokens.
type AuthService struct {
	Users      repository.UserStore
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	dummyOnce sync.Once
	dummy     string
}

// dummyHash is compared against when a login names an unknown email.  It is
// built at BcryptCost so both failure paths spend the same time.
func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		h, err := utils.HashPassword("leafguard-dummy-password", s.BcryptCost)
		if err != nil {
			logging.Error().Err(err).Msg("failed to build dummy password hash")
			return
		}
		s.dummy = h
	})
	return s.dummy
}

// RegisterInput is the validated registration payload.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a user.  Email addresses are compared case-insensitively.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := repository.NormalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return model.User{}, Validation("name, email and password are required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.User{}, Validation("name must be at most 100 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, Validation("invalid email address")
	}
	if len(in.Password) > maxPasswordBytes {
		return model.User{}, Validation("password must be at most 72 bytes")
	}

	hash, err := utils.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return model.User{}, Internal("failed to hash password", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	u, err := s.Users.Create(ctx, model.User{Name: name, Email: email, PasswordHash: hash})
	if errors.Is(err, repository.ErrEmailExists) {
		return model.User{}, Conflict("email already registered")
	}
	if err != nil {
		return model.User{}, Internal("failed to create user", err)
	}
	logging.Info().Str("user_id", u.ID).Msg("user registered")
	return u, nil
}

// Login checks credentials and returns a signed access token.  Unknown email
// and wrong password produce the same error and the same bcrypt cost.
func (s *AuthService) Login(ctx context.Context, email, password string) (utils.AccessToken, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return utils.AccessToken{}, Validation("email and password are required")
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	u, err := s.Users.GetByEmail(dbCtx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		_ = utils.VerifyPassword(s.dummyHash(), password)
		return utils.AccessToken{}, Unauthorized(msgInvalidCredentials)
	case err != nil:
		return utils.AccessToken{}, Internal("failed to load user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return utils.AccessToken{}, Unauthorized(msgInvalidCredentials)
	}

	tok, err := utils.NewAccessToken(s.JWTSecret, u.ID, u.Email, s.TokenTTL)
	if err != nil {
		return utils.AccessToken{}, Internal("failed to sign token", err)
	}
	return tok, nil
}
