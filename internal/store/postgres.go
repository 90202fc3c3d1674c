package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"companion/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- identities (credential store) ----

func (s *PostgresStore) GetIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	var id Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM identities
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&id.ID, &id.Email, &id.PasswordHash, &id.IsEmailVerified,
		&id.VerificationToken, &id.VerificationExpiresAt, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *PostgresStore) GetIdentityByID(ctx context.Context, identityID string) (Identity, error) {
	var id Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM identities
		WHERE id=$1
	`, identityID).Scan(&id.ID, &id.Email, &id.PasswordHash, &id.IsEmailVerified,
		&id.VerificationToken, &id.VerificationExpiresAt, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, identity Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, identity.ID, identity.Email, identity.PasswordHash, identity.IsEmailVerified, identity.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, identityID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, identityID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, identityID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, identityID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, identityID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, identity_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, identityID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var identityID string
	err := s.db.QueryRowContext(ctx, `
		SELECT identity_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&identityID)
	if err != nil {
		return "", err
	}
	return identityID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is absent) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, identityID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, identity_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET identity_id=EXCLUDED.identity_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, identityID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var identityID string
	err := s.db.QueryRowContext(ctx, `
		SELECT identity_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&identityID)
	if err != nil {
		return "", err
	}
	return identityID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// NewIdentityID mints an identity ID in the shared prefix format.
func NewIdentityID() string {
	return util.NewID("id")
}
