// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"companion/api/internal/store"
	"companion/api/internal/util"
)

// Service provides email/password authentication against the
// credential store.
type Service struct {
	store IdentityStore
}

// IdentityStore defines the storage interface for credentials.
type IdentityStore interface {
	GetIdentityByEmail(ctx context.Context, email string) (store.Identity, error)
	GetIdentityByID(ctx context.Context, identityID string) (store.Identity, error)
	CreateIdentity(ctx context.Context, identity store.Identity) error
	UpdateVerificationToken(ctx context.Context, identityID, token string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, token string) error
	UpdatePassword(ctx context.Context, identityID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, identityID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

func NewService(identities IdentityStore) *Service {
	return &Service{store: identities}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
}

// SignUpResponse contains the new identity and its verification token.
type SignUpResponse struct {
	IdentityID          string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new credential-store identity. Profile creation is
// the caller's job; this layer only owns the credentials.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetIdentityByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken := util.NewToken()

	identity := store.Identity{
		ID:                store.NewIdentityID(),
		Email:             req.Email,
		PasswordHash:      string(hash),
		IsEmailVerified:   false,
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := s.store.UpdateVerificationToken(ctx, identity.ID, verificationToken, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}

	return &SignUpResponse{
		IdentityID:          identity.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInRequest contains sign-in parameters.
type SignInRequest struct {
	Email    string
	Password string
}

// SignInResponse contains the authenticated identity.
type SignInResponse struct {
	Identity       store.Identity
	RequiresVerify bool
}

// SignIn authenticates an identity by email and password.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}

	identity, err := s.store.GetIdentityByEmail(ctx, req.Email)
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	if !identity.IsEmailVerified {
		return &SignInResponse{Identity: identity, RequiresVerify: true}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	return &SignInResponse{Identity: identity}, nil
}

// VerifyEmail verifies an email address using a token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("verification token required")
	}
	if err := s.store.VerifyEmail(ctx, token); err != nil {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

// ResendVerification mints a fresh verification token for an
// unverified identity.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	identity, err := s.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		// Don't reveal if email exists
		return "", nil
	}
	if identity.IsEmailVerified {
		return "", nil
	}

	token := util.NewToken()
	expiresAt := time.Now().Add(24 * time.Hour)
	if err := s.store.UpdateVerificationToken(ctx, identity.ID, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// RequestPasswordReset creates a password reset token.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	identity, err := s.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		// Don't reveal if email exists
		return "", nil
	}

	token := util.NewToken()
	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, identity.ID, token, expiresAt); err != nil {
		return "", err
	}

	return token, nil
}

// ResetPasswordRequest contains password reset parameters.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword resets an identity's password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(req.NewPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	identityID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, identityID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// Token consumption is best effort; the password is already reset.
	_ = s.store.MarkPasswordResetUsed(ctx, req.Token)

	return nil
}
