// configuration_repository.go implements ConfigurationRepository: natural-key upserts,
// legacy strict creates, scoped listings and the transactional batch upsert.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/configvault/configvault/internal/db/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ConfigurationRepository handles database operations for configuration entries
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository creates a new configuration repository
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

const configurationColumns = `id, key, value, environment, description, is_encrypted, is_sensitive,
	created_at, updated_at, created_by, updated_by, user_id, project_id`

// rowQueryer is satisfied by both *sqlx.DB and *sqlx.Tx
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertQuery overwrites every mutable column of an existing entry.
// xmax is zero only for a freshly inserted row, which tells create and update apart.
const upsertQuery = `
	INSERT INTO configurations (id, key, value, environment, description, is_encrypted, is_sensitive,
		created_at, updated_at, created_by, updated_by, user_id, project_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT ON CONSTRAINT uq_configurations_natural_key DO UPDATE SET
		value = EXCLUDED.value,
		description = EXCLUDED.description,
		is_encrypted = EXCLUDED.is_encrypted,
		is_sensitive = EXCLUDED.is_sensitive,
		updated_at = EXCLUDED.updated_at,
		updated_by = EXCLUDED.updated_by
	RETURNING id, description, is_encrypted, is_sensitive, created_at, created_by, user_id, (xmax = 0) AS inserted
`

// upsertValueQuery only replaces the value of an existing entry, keeping its metadata
const upsertValueQuery = `
	INSERT INTO configurations (id, key, value, environment, description, is_encrypted, is_sensitive,
		created_at, updated_at, created_by, updated_by, user_id, project_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT ON CONSTRAINT uq_configurations_natural_key DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = EXCLUDED.updated_at,
		updated_by = EXCLUDED.updated_by
	RETURNING id, description, is_encrypted, is_sensitive, created_at, created_by, user_id, (xmax = 0) AS inserted
`

func upsert(ctx context.Context, q rowQueryer, query string, cfg *models.Configuration) (bool, error) {
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = cfg.CreatedBy
	}

	var inserted bool
	err := q.QueryRowContext(ctx, query,
		uuid.New().String(),
		cfg.Key,
		cfg.Value,
		cfg.Environment,
		cfg.Description,
		cfg.IsEncrypted,
		cfg.IsSensitive,
		cfg.CreatedAt,
		cfg.UpdatedAt,
		cfg.CreatedBy,
		cfg.UpdatedBy,
		cfg.UserID,
		cfg.ProjectID,
	).Scan(
		&cfg.ID,
		&cfg.Description,
		&cfg.IsEncrypted,
		&cfg.IsSensitive,
		&cfg.CreatedAt,
		&cfg.CreatedBy,
		&cfg.UserID,
		&inserted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert configuration %q: %w", cfg.Key, err)
	}
	return inserted, nil
}

// Upsert creates or updates the entry identified by (key, environment, project).
// The returned flag is true when a new row was inserted. cfg.ProjectID must be set.
func (r *ConfigurationRepository) Upsert(ctx context.Context, cfg *models.Configuration) (bool, error) {
	if cfg.ProjectID == nil {
		return false, fmt.Errorf("upsert requires a project")
	}
	return upsert(ctx, r.db, upsertQuery, cfg)
}

// UpsertValues upserts every entry in one transaction, replacing only the value of
// entries that already exist. It returns one created flag per entry; on any failure
// nothing is written.
func (r *ConfigurationRepository) UpsertValues(ctx context.Context, cfgs []*models.Configuration) ([]bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]bool, len(cfgs))
	for i, cfg := range cfgs {
		if cfg.ProjectID == nil {
			return nil, fmt.Errorf("upsert requires a project")
		}
		if created[i], err = upsert(ctx, tx, upsertValueQuery, cfg); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return created, nil
}

// Create inserts a new entry; an existing natural key yields ErrDuplicate
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.Configuration) error {
	now := time.Now()
	cfg.ID = uuid.New().String()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = cfg.CreatedBy
	}

	query := `
		INSERT INTO configurations (id, key, value, environment, description, is_encrypted, is_sensitive,
			created_at, updated_at, created_by, updated_by, user_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Key,
		cfg.Value,
		cfg.Environment,
		cfg.Description,
		cfg.IsEncrypted,
		cfg.IsSensitive,
		cfg.CreatedAt,
		cfg.UpdatedAt,
		cfg.CreatedBy,
		cfg.UpdatedBy,
		cfg.UserID,
		cfg.ProjectID,
	)
	return translateError(err)
}

// Update rewrites the mutable columns of an existing entry
func (r *ConfigurationRepository) Update(ctx context.Context, cfg *models.Configuration) error {
	cfg.UpdatedAt = time.Now()
	query := `
		UPDATE configurations
		SET value = $1, description = $2, is_encrypted = $3, is_sensitive = $4, updated_at = $5, updated_by = $6
		WHERE id = $7
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.Value,
		cfg.Description,
		cfg.IsEncrypted,
		cfg.IsSensitive,
		cfg.UpdatedAt,
		cfg.UpdatedBy,
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	return nil
}

// Delete physically removes one entry
func (r *ConfigurationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM configurations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete configuration: %w", err)
	}
	return nil
}

func (r *ConfigurationRepository) get(ctx context.Context, query string, args ...any) (*models.Configuration, error) {
	var cfg models.Configuration
	err := r.db.GetContext(ctx, &cfg, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &cfg, nil
}

func (r *ConfigurationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Configuration, error) {
	cfgs := make([]*models.Configuration, 0)
	if err := r.db.SelectContext(ctx, &cfgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	return cfgs, nil
}

// GetByID retrieves an entry by surrogate id
func (r *ConfigurationRepository) GetByID(ctx context.Context, id string) (*models.Configuration, error) {
	return r.get(ctx, `SELECT `+configurationColumns+` FROM configurations WHERE id = $1`, id)
}

// GetByNaturalKey retrieves the project-scoped entry for (key, environment, project)
func (r *ConfigurationRepository) GetByNaturalKey(ctx context.Context, key, environment, projectID string) (*models.Configuration, error) {
	return r.get(ctx, `SELECT `+configurationColumns+`
		FROM configurations
		WHERE key = $1 AND environment = $2 AND project_id = $3`,
		key, environment, projectID)
}

// GetLegacy retrieves a project-less entry owned directly by userID
func (r *ConfigurationRepository) GetLegacy(ctx context.Context, key, environment, userID string) (*models.Configuration, error) {
	return r.get(ctx, `SELECT `+configurationColumns+`
		FROM configurations
		WHERE key = $1 AND environment = $2 AND user_id = $3 AND project_id IS NULL`,
		key, environment, userID)
}

// ListByUser returns every entry the user created
func (r *ConfigurationRepository) ListByUser(ctx context.Context, userID string) ([]*models.Configuration, error) {
	return r.list(ctx, `SELECT `+configurationColumns+` FROM configurations WHERE user_id = $1`, userID)
}

// ListByUserAndEnvironment returns the user's entries in one environment, ordered by key
func (r *ConfigurationRepository) ListByUserAndEnvironment(ctx context.Context, userID, environment string) ([]*models.Configuration, error) {
	return r.list(ctx, `SELECT `+configurationColumns+`
		FROM configurations
		WHERE user_id = $1 AND environment = $2
		ORDER BY key ASC`,
		userID, environment)
}

// ListByProject returns a project's entries ordered by key; an empty environment means all
func (r *ConfigurationRepository) ListByProject(ctx context.Context, projectID, environment string) ([]*models.Configuration, error) {
	if environment == "" {
		return r.list(ctx, `SELECT `+configurationColumns+`
			FROM configurations
			WHERE project_id = $1
			ORDER BY environment ASC, key ASC`,
			projectID)
	}
	return r.list(ctx, `SELECT `+configurationColumns+`
		FROM configurations
		WHERE project_id = $1 AND environment = $2
		ORDER BY key ASC`,
		projectID, environment)
}

// SearchByKey returns the user's entries in environment whose key contains q (case-sensitive)
func (r *ConfigurationRepository) SearchByKey(ctx context.Context, userID, environment, q string) ([]*models.Configuration, error) {
	return r.list(ctx, `SELECT `+configurationColumns+`
		FROM configurations
		WHERE user_id = $1 AND environment = $2 AND strpos(key, $3) > 0
		ORDER BY key ASC`,
		userID, environment, q)
}

// EnvironmentsForUser lists the distinct environments among the user's entries
func (r *ConfigurationRepository) EnvironmentsForUser(ctx context.Context, userID string) ([]string, error) {
	envs := make([]string, 0)
	err := r.db.SelectContext(ctx, &envs,
		`SELECT DISTINCT environment FROM configurations WHERE user_id = $1 ORDER BY environment`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return envs, nil
}

// EnvironmentsForProject lists the distinct environments among a project's entries
func (r *ConfigurationRepository) EnvironmentsForProject(ctx context.Context, projectID string) ([]string, error) {
	envs := make([]string, 0)
	err := r.db.SelectContext(ctx, &envs,
		`SELECT DISTINCT environment FROM configurations WHERE project_id = $1 ORDER BY environment`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return envs, nil
}
