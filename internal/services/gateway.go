package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/telemetry"
)

// KeyValidation is the result of a successful API key check
type KeyValidation struct {
	Valid       bool   `json:"valid"`
	ProjectName string `json:"projectName"`
	KeyName     string `json:"keyName"`
}

// Gateway serves configuration to API key holders.
//
// Possession of an active key grants read access to its project regardless of the
// user behind it. Values are returned unmasked; the key is the secret channel.
type Gateway struct {
	keys     APIKeyStore
	projects ProjectStore
	configs  ConfigStore
	now      func() time.Time
}

// NewGateway creates a Gateway
func NewGateway(keys APIKeyStore, projects ProjectStore, configs ConfigStore) *Gateway {
	return &Gateway{keys: keys, projects: projects, configs: configs, now: time.Now}
}

// resolve returns the usable key and its project
func (g *Gateway) resolve(ctx context.Context, apiKey string) (*models.APIKey, *models.Project, error) {
	if !auth.LooksLikeProjectKey(apiKey) {
		return nil, nil, fmt.Errorf("%w: invalid or inactive API key", ErrUnauthorized)
	}
	key, err := g.keys.GetAPIKeyByKey(ctx, apiKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load api key: %w", err)
	}
	if !key.Usable(g.now()) {
		return nil, nil, fmt.Errorf("%w: invalid or inactive API key", ErrUnauthorized)
	}
	project, err := g.projects.GetProjectByID(ctx, key.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return key, nil, fmt.Errorf("%w: no project is bound to this API key", ErrNotFound)
	}
	return key, project, nil
}

// Configs returns the unmasked key/value map of the key's project in environment
// and stamps the key's last use.
func (g *Gateway) Configs(ctx context.Context, apiKey, environment string) (map[string]string, error) {
	key, project, err := g.resolve(ctx, apiKey)
	if err == nil {
		err = validateEnvironment(environment)
	}
	if err != nil {
		telemetry.PublicConfigReadsTotal.WithLabelValues(readOutcome(err)).Inc()
		return nil, err
	}

	if err := g.keys.UpdateLastUsed(ctx, key.ID, g.now()); err != nil {
		slog.Warn("failed to update api key last use", "key_id", key.ID, "error", err)
	}

	entries, err := g.configs.ListByProject(ctx, project.ID, environment)
	if err != nil {
		telemetry.PublicConfigReadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.PublicConfigReadsTotal.WithLabelValues("ok").Inc()
	return toMap(entries, false), nil
}

// Validate checks apiKey without side effects
func (g *Gateway) Validate(ctx context.Context, apiKey string) (*KeyValidation, error) {
	key, project, err := g.resolve(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &KeyValidation{Valid: true, ProjectName: project.Name, KeyName: key.Name}, nil
}

func readOutcome(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
