// project_repository.go implements ProjectRepository: ownership-scoped project
// lookups plus the transactional create (project + API key) and delete paths.
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

// ProjectRepository handles database operations for projects
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, description, user_id, created_at, updated_at`

// CreateWithAPIKey inserts the project and its API key in one transaction.
// Either both rows exist afterwards or neither does.
func (r *ProjectRepository) CreateWithAPIKey(ctx context.Context, project *models.Project, key *models.APIKey) error {
	now := time.Now()
	project.ID = uuid.New().String()
	project.CreatedAt = now
	project.UpdatedAt = now

	key.ID = uuid.New().String()
	key.ProjectID = project.ID
	key.UserID = project.UserID
	key.CreatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		project.ID,
		project.Name,
		project.Description,
		project.UserID,
		project.CreatedAt,
		project.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key, description, is_active, created_at, expires_at, user_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID,
		key.Name,
		key.Key,
		key.Description,
		key.IsActive,
		key.CreatedAt,
		key.ExpiresAt,
		key.UserID,
		key.ProjectID,
	); err != nil {
		return fmt.Errorf("failed to create project api key: %w", translateError(err))
	}

	return tx.Commit()
}

// GetProjectForUser returns the project only when userID owns it
func (r *ProjectRepository) GetProjectForUser(ctx context.Context, id, userID string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND user_id = $2`

	var project models.Project
	err := r.db.GetContext(ctx, &project, query, id, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// GetProjectByID retrieves a project regardless of owner
func (r *ProjectRepository) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	var project models.Project
	err := r.db.GetContext(ctx, &project, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// ListProjectsByUser returns the user's projects, newest first
func (r *ProjectRepository) ListProjectsByUser(ctx context.Context, userID string) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`

	projects := make([]*models.Project, 0)
	if err := r.db.SelectContext(ctx, &projects, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// UpdateProject rewrites name and description and stamps updated_at
func (r *ProjectRepository) UpdateProject(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE projects SET name = $1, description = $2, updated_at = $3 WHERE id = $4`,
		project.Name, project.Description, project.UpdatedAt, project.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// DeleteProject removes the project's API key, its configurations, then the project itself,
// all in one transaction.
func (r *ProjectRepository) DeleteProject(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete project api key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM configurations WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete project configurations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	return tx.Commit()
}
