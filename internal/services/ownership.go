package services

import (
	"context"
	"fmt"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/google/uuid"
)

// Guard decides which user may reach which project or configuration entry.
//
// Read and update lookups never distinguish "absent" from "owned by someone else":
// both are ErrNotFound, so tenants cannot enumerate each other's ids. Configuration writes
// that name a project are the one exception; the project id comes from the caller and
// a foreign project is reported as ErrForbidden.
type Guard struct {
	projects ProjectStore
	configs  ConfigStore
}

// NewGuard creates a Guard
func NewGuard(projects ProjectStore, configs ConfigStore) *Guard {
	return &Guard{projects: projects, configs: configs}
}

// AuthorizeProject returns the project when user owns it
func (g *Guard) AuthorizeProject(ctx context.Context, user *models.User, projectID string) (*models.Project, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	project, err := g.projects.GetProjectForUser(ctx, projectID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	return project, nil
}

// AuthorizeProjectForWrite is AuthorizeProject for configuration writes: a project
// that exists but belongs to another user yields ErrForbidden.
func (g *Guard) AuthorizeProjectForWrite(ctx context.Context, user *models.User, projectID string) (*models.Project, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	project, err := g.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if !project.OwnedBy(user.ID) {
		return nil, fmt.Errorf("%w: no access to project %s", ErrForbidden, projectID)
	}
	return project, nil
}

// AuthorizeConfig resolves one configuration entry for user.
//
// With projectID the project must be owned and the entry is found by natural key.
// Without it, keyOrID is tried as an entry id first (environment must match and the
// entry must be owned directly or through an owned project), then as the key of a
// project-less entry of the user.
func (g *Guard) AuthorizeConfig(ctx context.Context, user *models.User, environment, keyOrID string, projectID *string) (*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}

	if projectID != nil && *projectID != "" {
		if _, err := g.AuthorizeProject(ctx, user, *projectID); err != nil {
			return nil, err
		}
		cfg, err := g.configs.GetByNaturalKey(ctx, keyOrID, environment, *projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg == nil {
			return nil, configNotFound(keyOrID, environment)
		}
		return cfg, nil
	}

	if _, err := uuid.Parse(keyOrID); err == nil {
		cfg, err := g.configs.GetByID(ctx, keyOrID)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg != nil && cfg.Environment == environment {
			ok, err := g.ownsConfig(ctx, user, cfg)
			if err != nil {
				return nil, err
			}
			if ok {
				return cfg, nil
			}
			return nil, configNotFound(keyOrID, environment)
		}
	}

	cfg, err := g.configs.GetLegacy(ctx, keyOrID, environment, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg == nil {
		return nil, configNotFound(keyOrID, environment)
	}
	return cfg, nil
}

func (g *Guard) ownsConfig(ctx context.Context, user *models.User, cfg *models.Configuration) (bool, error) {
	if cfg.UserID == user.ID {
		return true, nil
	}
	if cfg.ProjectID == nil {
		return false, nil
	}
	project, err := g.projects.GetProjectForUser(ctx, *cfg.ProjectID, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load project: %w", err)
	}
	return project != nil, nil
}

func configNotFound(key, environment string) error {
	return fmt.Errorf("%w: configuration %s in %s", ErrNotFound, key, environment)
}
