// api_key_repository.go implements APIKeyRepository: lookup by key string for the
// public gateway, per-project lookup, and last-used stamping.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/configvault/configvault/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, name, key, description, is_active, created_at, expires_at, last_used, user_id, project_id`

func scanAPIKey(row *sql.Row) (*models.APIKey, error) {
	apiKey := &models.APIKey{}
	err := row.Scan(
		&apiKey.ID,
		&apiKey.Name,
		&apiKey.Key,
		&apiKey.Description,
		&apiKey.IsActive,
		&apiKey.CreatedAt,
		&apiKey.ExpiresAt,
		&apiKey.LastUsed,
		&apiKey.UserID,
		&apiKey.ProjectID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return apiKey, nil
}

// GetAPIKeyByKey retrieves an API key by its key string, active or not
func (r *APIKeyRepository) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key = $1`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, key))
}

// GetAPIKeyByProject retrieves the key bound to a project
func (r *APIKeyRepository) GetAPIKeyByProject(ctx context.Context, projectID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE project_id = $1`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, projectID))
}

// UpdateLastUsed stamps the last successful public read
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = $1 WHERE id = $2`, at, keyID)
	return err
}
