package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/db/models"
)

// ProjectDetails is a project together with its API key
type ProjectDetails struct {
	Project *models.Project
	APIKey  *models.APIKey
}

// ProjectService manages project lifecycle and API key provisioning
type ProjectService struct {
	projects ProjectStore
	keys     APIKeyStore
	configs  ConfigStore
	guard    *Guard
	audit    *AuditService

	// generateKey is swapped in tests
	generateKey func() (string, error)
}

// NewProjectService creates a ProjectService
func NewProjectService(projects ProjectStore, keys APIKeyStore, configs ConfigStore, guard *Guard, audit *AuditService) *ProjectService {
	return &ProjectService{
		projects:    projects,
		keys:        keys,
		configs:     configs,
		guard:       guard,
		audit:       audit,
		generateKey: auth.GenerateProjectKey,
	}
}

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: name must be at most 255 characters", ErrValidation)
	}
	return name, nil
}

// Create stores a project owned by user together with its active API key.
// Both rows are written in one transaction.
func (s *ProjectService) Create(ctx context.Context, user *models.User, name, description string) (*ProjectDetails, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	name, err := validateProjectName(name)
	if err != nil {
		return nil, err
	}

	keyString, err := s.generateKey()
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Name:        name,
		Description: description,
		UserID:      user.ID,
	}
	key := &models.APIKey{
		Name:        name + " API Key",
		Key:         keyString,
		Description: "Auto-generated API key for project: " + name,
		IsActive:    true,
	}
	if err := s.projects.CreateWithAPIKey(ctx, project, key); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionCreateProject,
		ResourceType: models.ResourceProject,
		ResourceID:   project.ID,
		ResourceName: project.Name,
		Description:  "Project created: " + project.Name,
	})
	return &ProjectDetails{Project: project, APIKey: key}, nil
}

// Get returns an owned project with its API key
func (s *ProjectService) Get(ctx context.Context, user *models.User, id string) (*ProjectDetails, error) {
	project, err := s.guard.AuthorizeProject(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return s.withKey(ctx, project)
}

// List returns the user's projects with their API keys
func (s *ProjectService) List(ctx context.Context, user *models.User) ([]*ProjectDetails, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	projects, err := s.projects.ListProjectsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*ProjectDetails, 0, len(projects))
	for _, p := range projects {
		d, err := s.withKey(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *ProjectService) withKey(ctx context.Context, project *models.Project) (*ProjectDetails, error) {
	key, err := s.keys.GetAPIKeyByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	return &ProjectDetails{Project: project, APIKey: key}, nil
}

// Update renames an owned project and replaces its description
func (s *ProjectService) Update(ctx context.Context, user *models.User, id, name, description string) (*ProjectDetails, error) {
	name, err := validateProjectName(name)
	if err != nil {
		return nil, err
	}
	project, err := s.guard.AuthorizeProject(ctx, user, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit.RecordFailure(ctx, user, models.ActionUpdateProject, models.ResourceProject, "Project not found: "+id)
		}
		return nil, err
	}

	project.Name = name
	project.Description = description
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionUpdateProject,
		ResourceType: models.ResourceProject,
		ResourceID:   project.ID,
		ResourceName: project.Name,
		Description:  "Project updated: " + project.Name,
	})
	return s.withKey(ctx, project)
}

// Delete removes an owned project together with its API key and configurations
func (s *ProjectService) Delete(ctx context.Context, user *models.User, id string) error {
	project, err := s.guard.AuthorizeProject(ctx, user, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit.RecordFailure(ctx, user, models.ActionDeleteProject, models.ResourceProject, "Project not found: "+id)
		}
		return err
	}

	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionDeleteProject,
		ResourceType: models.ResourceProject,
		ResourceID:   project.ID,
		ResourceName: project.Name,
		Description:  "Project deleted: " + project.Name,
	})
	return nil
}

// Environments lists the distinct environments used by an owned project
func (s *ProjectService) Environments(ctx context.Context, user *models.User, id string) ([]string, error) {
	if _, err := s.guard.AuthorizeProject(ctx, user, id); err != nil {
		return nil, err
	}
	return s.configs.EnvironmentsForProject(ctx, id)
}

// Configs lists the entries of an owned project, optionally in one environment
func (s *ProjectService) Configs(ctx context.Context, user *models.User, id, environment string) ([]*models.Configuration, error) {
	if _, err := s.guard.AuthorizeProject(ctx, user, id); err != nil {
		return nil, err
	}
	return s.configs.ListByProject(ctx, id, environment)
}
