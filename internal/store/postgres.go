package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medkey/api/internal/policy"
	"medkey/api/internal/profile"
)

var (
	// ErrNotFound covers both "no such record" and "not visible to the
	// caller". Callers must not infer existence from it.
	ErrNotFound = errors.New("record not found")
	// ErrWriteDenied is the storage-boundary rejection of an upsert whose
	// requester does not own the record.
	ErrWriteDenied = errors.New("write denied")
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

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, is_email_confirmed, confirmation_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.IsEmailConfirmed, user.ConfirmationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, is_email_confirmed, COALESCE(confirmation_token, ''), confirmation_expires_at
		FROM users WHERE lower(email) = lower($1)
	`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, is_email_confirmed, COALESCE(confirmation_token, ''), confirmation_expires_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.IsEmailConfirmed, &user.ConfirmationToken, &user.ConfirmationExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserConfirmationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET confirmation_token=$2, confirmation_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update confirmation token: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConfirmUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_confirmed=TRUE, confirmation_token=NULL, confirmation_expires_at=NULL, updated_at=NOW()
		WHERE confirmation_token=$1 AND confirmation_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm email rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// --- password resets ---

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- sign-in throttling ---

func (s *PostgresStore) RecordLoginFailure(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (email, failure_count, last_failure_at)
		VALUES (lower($1), 1, NOW())
		ON CONFLICT (email) DO UPDATE SET failure_count = login_attempts.failure_count + 1, last_failure_at = NOW()
	`, email)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoginFailures(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT failure_count FROM login_attempts
		WHERE email = lower($1) AND last_failure_at > $2
	`, email, since).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read login failures: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ClearLoginFailures(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE email = lower($1)`, email)
	if err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}

// --- refresh sessions (Postgres fallback when Redis is not configured) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
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

// --- profiles ---

// FetchProfile is the public read path: no requester identity, any stored id
// is visible.
func (s *PostgresStore) FetchProfile(ctx context.Context, id string) (profile.Record, error) {
	var (
		rec          profile.Record
		contactsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(full_name, ''), COALESCE(birth_date, ''), COALESCE(blood_type, ''),
			COALESCE(allergies, ''), COALESCE(conditions, ''), COALESCE(medications, ''),
			COALESCE(notes, ''), COALESCE(photo_url, ''), contacts, last_updated
		FROM profiles WHERE id = $1
	`, id).Scan(&rec.ID, &rec.FullName, &rec.BirthDate, &rec.BloodType,
		&rec.Allergies, &rec.Conditions, &rec.Medications,
		&rec.Notes, &rec.PhotoURL, &contactsJSON, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Record{}, ErrNotFound
	}
	if err != nil {
		return profile.Record{}, fmt.Errorf("fetch profile: %w", err)
	}
	if len(contactsJSON) > 0 {
		if err := json.Unmarshal(contactsJSON, &rec.Contacts); err != nil {
			return profile.Record{}, fmt.Errorf("decode contacts: %w", err)
		}
	}
	return rec, nil
}

// UpsertProfile replaces the whole record keyed by its id. The write rule is
// enforced here, at the storage boundary, regardless of what the caller
// already checked: the record id must equal the authenticated principal's id.
// Idempotent modulo last_updated.
func (s *PostgresStore) UpsertProfile(ctx context.Context, principalID string, rec profile.Record) error {
	if !policy.CanWrite(principalID, rec.ID) {
		return fmt.Errorf("upsert profile %s as %q: %w", rec.ID, principalID, ErrWriteDenied)
	}

	contactsJSON, err := json.Marshal(rec.Contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, birth_date, blood_type, allergies, conditions, medications, notes, photo_url, contacts, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			full_name=EXCLUDED.full_name,
			birth_date=EXCLUDED.birth_date,
			blood_type=EXCLUDED.blood_type,
			allergies=EXCLUDED.allergies,
			conditions=EXCLUDED.conditions,
			medications=EXCLUDED.medications,
			notes=EXCLUDED.notes,
			photo_url=EXCLUDED.photo_url,
			contacts=EXCLUDED.contacts,
			last_updated=EXCLUDED.last_updated
	`, rec.ID, rec.FullName, rec.BirthDate, rec.BloodType, rec.Allergies, rec.Conditions,
		rec.Medications, rec.Notes, rec.PhotoURL, contactsJSON, rec.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
