// Package authpw provides email/password authentication with confirmation.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"medkey/api/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is checked before any store or provider work.
	MinPasswordLength = 6

	maxLoginFailures   = 5
	loginFailureWindow = 15 * time.Minute
)

var (
	// ErrInvalidCredentials deliberately covers both unknown email and wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrRateLimited        = errors.New("too many failed attempts")
)

// ValidationError is a client-checkable input failure; it never involves a
// round trip past the checks in this package.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserConfirmationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConfirmUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
	RecordLoginFailure(ctx context.Context, email string) error
	LoginFailures(ctx context.Context, email string, since time.Time) (int, error)
	ClearLoginFailures(ctx context.Context, email string) error
}

// Service provides email/password authentication. When autoConfirm is false,
// signups are confirmation-gated: the account exists but no session may be
// issued until the emailed token is presented.
type Service struct {
	store       UserStore
	autoConfirm bool
}

func NewService(userStore UserStore, autoConfirm bool) *Service {
	return &Service{store: userStore, autoConfirm: autoConfirm}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUpResponse contains sign-up result. ConfirmationPending is a distinct
// non-error outcome, not a failure: the identity exists but has no session.
type SignUpResponse struct {
	User                store.User
	ConfirmationPending bool
	ConfirmationToken   string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	displayName := strings.TrimSpace(req.DisplayName)

	if !validEmail(email) {
		return nil, &ValidationError{Field: "email", Message: "malformed email address"}
	}
	if len(req.Password) < MinPasswordLength {
		return nil, &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	if displayName == "" {
		return nil, &ValidationError{Field: "displayName", Message: "display name is required"}
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:               uuid.NewString(),
		Email:            email,
		DisplayName:      displayName,
		PasswordHash:     string(hash),
		IsEmailConfirmed: s.autoConfirm,
	}

	var confirmationToken string
	if !s.autoConfirm {
		confirmationToken, err = generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate confirmation token: %w", err)
		}
		user.ConfirmationToken = confirmationToken
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if !s.autoConfirm {
		expiresAt := time.Now().Add(24 * time.Hour)
		if err := s.store.UpdateUserConfirmationToken(ctx, user.ID, confirmationToken, expiresAt); err != nil {
			return nil, fmt.Errorf("set confirmation expiry: %w", err)
		}
	}

	return &SignUpResponse{
		User:                user,
		ConfirmationPending: !s.autoConfirm,
		ConfirmationToken:   confirmationToken,
	}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user. Repeated failures for the same email trip the
// rate limit before credentials are even checked.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	failures, err := s.store.LoginFailures(ctx, email, time.Now().Add(-loginFailureWindow))
	if err != nil {
		return store.User{}, fmt.Errorf("check login failures: %w", err)
	}
	if failures >= maxLoginFailures {
		return store.User{}, ErrRateLimited
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		_ = s.store.RecordLoginFailure(ctx, email)
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		_ = s.store.RecordLoginFailure(ctx, email)
		return store.User{}, ErrInvalidCredentials
	}

	if !user.IsEmailConfirmed {
		return store.User{}, ErrEmailNotConfirmed
	}

	_ = s.store.ClearLoginFailures(ctx, email)
	return user, nil
}

// ConfirmEmail completes a confirmation-gated signup using the emailed token.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	if token == "" {
		return &ValidationError{Field: "token", Message: "confirmation token required"}
	}
	if err := s.store.ConfirmUserEmail(ctx, token); err != nil {
		return errors.New("invalid or expired confirmation token")
	}
	return nil
}

// RequestPasswordReset creates a password reset token. It never reveals
// whether the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return "", nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword resets a user's password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return &ValidationError{Field: "token", Message: "reset token required"}
	}
	if len(newPassword) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.store.MarkPasswordResetUsed(ctx, token); err != nil {
		// Password already changed; a reusable token is bounded by expiry.
	}
	return nil
}

// validEmail is a shape check, not RFC validation: something@something.tld.
func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
