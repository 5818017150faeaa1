package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAPIKey stores a key record. The caller supplies the hash and prefix.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	if k == nil {
		return fmt.Errorf("nil api key")
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.Status == "" {
		k.Status = KeyActive
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys
			(id, name, secret_hash, key_prefix, status, rate_limit, expires_at, last_used_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.SecretHash, k.KeyPrefix, string(k.Status), k.RateLimit,
		nullTime(k.ExpiresAt), nullTime(k.LastUsedAt), k.CreatedBy, formatTime(k.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("api key %q: %w", k.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, name, secret_hash, key_prefix, status, rate_limit, expires_at, last_used_at, created_by, created_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var (
		k          APIKey
		status     string
		expiresAt  sql.NullString
		lastUsedAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&k.ID, &k.Name, &k.SecretHash, &k.KeyPrefix, &status, &k.RateLimit,
		&expiresAt, &lastUsedAt, &k.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	k.Status = KeyStatus(status)
	k.ExpiresAt = timePtr(expiresAt)
	k.LastUsedAt = timePtr(lastUsedAt)
	k.CreatedAt = parseTime(createdAt)
	return &k, nil
}

// GetAPIKeyByPrefix looks a key up by its indexed, non-secret prefix.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ?`, prefix)
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, notFound(err, "api key")
	}
	return k, nil
}

// GetAPIKeyByName returns the key with the given name.
func (s *Store) GetAPIKeyByName(ctx context.Context, name string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE name = ?`, name)
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, notFound(err, "api key "+name)
	}
	return k, nil
}

// ListAPIKeys returns every key ordered by name.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TouchAPIKey sets last_used_at.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// RevokeAPIKey marks a key REVOKED. Revoking twice is not an error.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET status = 'REVOKED' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExpireAPIKeys flips ACTIVE keys whose expiry has passed to EXPIRED.
func (s *Store) ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire api keys: %w", err)
	}
	return res.RowsAffected()
}
