// Package services holds ConfigVault's business rules: tenant ownership checks,
// configuration upserts and projections, project provisioning, the public API-key
// read path and the audit trail. Services receive the acting user explicitly and
// talk to PostgreSQL only through the store interfaces below, which the
// repositories package satisfies.
package services

import (
	"context"
	"time"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/db/repositories"
)

// UserStore is the subset of user persistence the services need
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	CountUsers(ctx context.Context) (int, error)
}

// ProjectStore persists projects. CreateWithAPIKey and DeleteProject are transactional.
type ProjectStore interface {
	CreateWithAPIKey(ctx context.Context, project *models.Project, key *models.APIKey) error
	GetProjectForUser(ctx context.Context, id, userID string) (*models.Project, error)
	GetProjectByID(ctx context.Context, id string) (*models.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// APIKeyStore persists project API keys
type APIKeyStore interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error)
	GetAPIKeyByProject(ctx context.Context, projectID string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// ConfigStore persists configuration entries
type ConfigStore interface {
	Upsert(ctx context.Context, cfg *models.Configuration) (bool, error)
	UpsertValues(ctx context.Context, cfgs []*models.Configuration) ([]bool, error)
	Create(ctx context.Context, cfg *models.Configuration) error
	Update(ctx context.Context, cfg *models.Configuration) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Configuration, error)
	GetByNaturalKey(ctx context.Context, key, environment, projectID string) (*models.Configuration, error)
	GetLegacy(ctx context.Context, key, environment, userID string) (*models.Configuration, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Configuration, error)
	ListByUserAndEnvironment(ctx context.Context, userID, environment string) ([]*models.Configuration, error)
	ListByProject(ctx context.Context, projectID, environment string) ([]*models.Configuration, error)
	SearchByKey(ctx context.Context, userID, environment, q string) ([]*models.Configuration, error)
	EnvironmentsForUser(ctx context.Context, userID string) ([]string, error)
	EnvironmentsForProject(ctx context.Context, projectID string) ([]string, error)
}

// AuditStore is the append-only audit log. It has no update or delete methods.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

var (
	_ UserStore    = (*repositories.UserRepository)(nil)
	_ ProjectStore = (*repositories.ProjectRepository)(nil)
	_ APIKeyStore  = (*repositories.APIKeyRepository)(nil)
	_ ConfigStore  = (*repositories.ConfigurationRepository)(nil)
	_ AuditStore   = (*repositories.AuditRepository)(nil)
)
