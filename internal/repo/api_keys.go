package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/domain"
)

const apiKeyColumns = `id, actor_id, name, key_hash, created_at`

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKeyTx stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKeyTx(ctx context.Context, tx *sqlx.Tx, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ActorID == "" {
		return errors.New("actor_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`),
		key.ID, key.ActorID, key.Name, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.DB.GetContext(ctx, &key, r.DB.Rebind(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? LIMIT 1`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// ListAPIKeys returns API keys, optionally filtered by actor ID.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC, id`
	var keys []domain.APIKey
	if err := r.DB.SelectContext(ctx, &keys, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteAPIKeyTx deletes an API key by ID.
func (r Repo) DeleteAPIKeyTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM api_keys WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
