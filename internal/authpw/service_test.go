package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"companion/api/internal/store"
)

// mockIdentityStore is an in-memory IdentityStore for testing.
type mockIdentityStore struct {
	identities    map[string]store.Identity
	emailIndex    map[string]string
	verifications map[string]string // token -> identityID
	resets        map[string]struct {
		identityID string
		expiresAt  time.Time
		used       bool
	}
}

func newMockIdentityStore() *mockIdentityStore {
	return &mockIdentityStore{
		identities:    make(map[string]store.Identity),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]string),
		resets: make(map[string]struct {
			identityID string
			expiresAt  time.Time
			used       bool
		}),
	}
}

func (m *mockIdentityStore) GetIdentityByEmail(ctx context.Context, email string) (store.Identity, error) {
	if id, ok := m.emailIndex[email]; ok {
		return m.identities[id], nil
	}
	return store.Identity{}, errors.New("identity not found")
}

func (m *mockIdentityStore) GetIdentityByID(ctx context.Context, identityID string) (store.Identity, error) {
	if identity, ok := m.identities[identityID]; ok {
		return identity, nil
	}
	return store.Identity{}, errors.New("identity not found")
}

func (m *mockIdentityStore) CreateIdentity(ctx context.Context, identity store.Identity) error {
	m.identities[identity.ID] = identity
	m.emailIndex[identity.Email] = identity.ID
	return nil
}

func (m *mockIdentityStore) UpdateVerificationToken(ctx context.Context, identityID, token string, expiresAt time.Time) error {
	if identity, ok := m.identities[identityID]; ok {
		identity.VerificationToken = token
		identity.VerificationExpiresAt = &expiresAt
		m.identities[identityID] = identity
		m.verifications[token] = identityID
	}
	return nil
}

func (m *mockIdentityStore) VerifyEmail(ctx context.Context, token string) error {
	if id, ok := m.verifications[token]; ok {
		identity := m.identities[id]
		identity.IsEmailVerified = true
		m.identities[id] = identity
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockIdentityStore) UpdatePassword(ctx context.Context, identityID, passwordHash string) error {
	if identity, ok := m.identities[identityID]; ok {
		identity.PasswordHash = passwordHash
		m.identities[identityID] = identity
		return nil
	}
	return errors.New("identity not found")
}

func (m *mockIdentityStore) CreatePasswordReset(ctx context.Context, identityID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		identityID string
		expiresAt  time.Time
		used       bool
	}{identityID: identityID, expiresAt: expiresAt}
	return nil
}

func (m *mockIdentityStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.identityID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockIdentityStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockIdentityStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if resp.IdentityID == "" {
			t.Fatal("expected identity ID")
		}
		if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
			t.Fatalf("expected verification requirement, got %+v", resp)
		}
		stored, err := mockStore.GetIdentityByEmail(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("GetIdentityByEmail() error = %v", err)
		}
		if stored.PasswordHash == "password123" {
			t.Fatal("password stored in plaintext")
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123"}); err == nil {
			t.Fatal("expected duplicate email error")
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Email: "short@example.com", Password: "short"}); err == nil {
			t.Fatal("expected short password error")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockIdentityStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "staff@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	t.Run("unverified identity flagged", func(t *testing.T) {
		in, err := svc.SignIn(ctx, SignInRequest{Email: "staff@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if !in.RequiresVerify {
			t.Fatal("expected RequiresVerify before email verification")
		}
	})

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	t.Run("verified sign in succeeds", func(t *testing.T) {
		in, err := svc.SignIn(ctx, SignInRequest{Email: "staff@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if in.RequiresVerify {
			t.Fatal("unexpected RequiresVerify after verification")
		}
		if in.Identity.Email != "staff@example.com" {
			t.Fatalf("unexpected identity: %+v", in.Identity)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "staff@example.com", Password: "wrongpass1"}); err == nil {
			t.Fatal("expected invalid credentials error")
		}
	})

	t.Run("unknown email rejected", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "password123"}); err == nil {
			t.Fatal("expected invalid credentials error")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockIdentityStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "reset@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	t.Run("unknown email does not leak", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		if token != "" {
			t.Fatal("expected empty token for unknown email")
		}
	})

	t.Run("reset flow", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		if token == "" {
			t.Fatal("expected reset token")
		}
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
			t.Fatalf("ResetPassword() error = %v", err)
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "newpassword1"}); err != nil {
			t.Fatalf("SignIn() with new password error = %v", err)
		}
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"}); err == nil {
			t.Fatal("expected used token to be rejected")
		}
	})
}
