package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/db/repositories"
	"github.com/configvault/configvault/internal/telemetry"
)

// UpsertInput carries the writable fields of a configuration entry.
// ProjectID is required by Upsert and ignored by the legacy Create.
type UpsertInput struct {
	Key         string
	Value       string
	Environment string
	Description string
	ProjectID   string
	IsEncrypted bool
	IsSensitive bool
}

// UpdateInput carries the fields an in-place update may change
type UpdateInput struct {
	Value       string
	Description string
	IsEncrypted bool
	IsSensitive bool
}

// ListFilter narrows List. Both fields are optional.
type ListFilter struct {
	Environment string
	ProjectID   string
}

// BatchInput upserts the values of Configs into one project environment
type BatchInput struct {
	ProjectID   string
	Environment string
	Configs     map[string]string
}

// Export is a rendered dotenv document
type Export struct {
	Environment string
	Document    string
	// ArchivePath is set when a copy was written to the archive backend
	ArchivePath string
}

// ConfigService implements the configuration store rules on top of ConfigStore
type ConfigService struct {
	configs  ConfigStore
	guard    *Guard
	audit    *AuditService
	archiver Archiver
	now      func() time.Time
}

// NewConfigService creates a ConfigService. archiver may be nil.
func NewConfigService(configs ConfigStore, guard *Guard, audit *AuditService, archiver Archiver) *ConfigService {
	return &ConfigService{
		configs:  configs,
		guard:    guard,
		audit:    audit,
		archiver: archiver,
		now:      time.Now,
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	if strings.ContainsAny(key, "= \t\r\n#") {
		return fmt.Errorf("%w: key %q contains characters not allowed in a dotenv name", ErrValidation, key)
	}
	return nil
}

func validateEnvironment(environment string) error {
	if strings.TrimSpace(environment) == "" {
		return fmt.Errorf("%w: environment is required", ErrValidation)
	}
	return nil
}

func (in UpsertInput) validate() error {
	if err := validateKey(in.Key); err != nil {
		return err
	}
	return validateEnvironment(in.Environment)
}

// List returns the user's entries. With a project the project must be owned; with an
// environment only, entries are ordered by key.
func (s *ConfigService) List(ctx context.Context, user *models.User, f ListFilter) ([]*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	switch {
	case f.ProjectID != "":
		if _, err := s.guard.AuthorizeProject(ctx, user, f.ProjectID); err != nil {
			return nil, err
		}
		return s.configs.ListByProject(ctx, f.ProjectID, f.Environment)
	case f.Environment != "":
		return s.configs.ListByUserAndEnvironment(ctx, user.ID, f.Environment)
	default:
		return s.configs.ListByUser(ctx, user.ID)
	}
}

// Get returns one entry by key (or id) and environment
func (s *ConfigService) Get(ctx context.Context, user *models.User, environment, key string, projectID *string) (*models.Configuration, error) {
	return s.guard.AuthorizeConfig(ctx, user, environment, key, projectID)
}

// Upsert creates the entry for (key, environment, project) or overwrites it in place.
// The boolean reports whether a new entry was created.
func (s *ConfigService) Upsert(ctx context.Context, user *models.User, in UpsertInput) (*models.Configuration, bool, error) {
	if user == nil {
		return nil, false, ErrUnauthorized
	}
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	if in.ProjectID == "" {
		return nil, false, fmt.Errorf("%w: projectId is required", ErrValidation)
	}
	project, err := s.guard.AuthorizeProjectForWrite(ctx, user, in.ProjectID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.audit.RecordFailure(ctx, user, models.ActionCreateConfig, models.ResourceConfiguration, err.Error())
		}
		return nil, false, err
	}

	cfg := &models.Configuration{
		Key:         in.Key,
		Value:       in.Value,
		Environment: in.Environment,
		Description: in.Description,
		IsEncrypted: in.IsEncrypted,
		IsSensitive: in.IsSensitive,
		CreatedBy:   user.Username,
		UpdatedBy:   user.Username,
		UserID:      user.ID,
		ProjectID:   &project.ID,
	}
	created, err := s.configs.Upsert(ctx, cfg)
	if err != nil {
		return nil, false, err
	}
	s.recordUpsert(ctx, user, cfg, created)
	return cfg, created, nil
}

func (s *ConfigService) recordUpsert(ctx context.Context, user *models.User, cfg *models.Configuration, created bool) {
	action, result, verb := models.ActionUpdateConfig, "updated", "Configuration updated"
	if created {
		action, result, verb = models.ActionCreateConfig, "created", "Configuration created"
	}
	telemetry.ConfigUpsertsTotal.WithLabelValues(result).Inc()
	s.audit.Record(ctx, user, Entry{
		Action:       action,
		ResourceType: models.ResourceConfiguration,
		ResourceID:   cfg.ID,
		ResourceName: cfg.Key,
		Description:  fmt.Sprintf("%s: %s (%s)", verb, cfg.Key, cfg.Environment),
	})
}

// Create inserts a project-less entry. An existing (key, environment) of the same
// user is ErrConflict.
func (s *ConfigService) Create(ctx context.Context, user *models.User, in UpsertInput) (*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	cfg := &models.Configuration{
		Key:         in.Key,
		Value:       in.Value,
		Environment: in.Environment,
		Description: in.Description,
		IsEncrypted: in.IsEncrypted,
		IsSensitive: in.IsSensitive,
		CreatedBy:   user.Username,
		UpdatedBy:   user.Username,
		UserID:      user.ID,
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: configuration %s already exists in %s", ErrConflict, in.Key, in.Environment)
		}
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionCreateConfig,
		ResourceType: models.ResourceConfiguration,
		ResourceID:   cfg.ID,
		ResourceName: cfg.Key,
		Description:  fmt.Sprintf("Configuration created: %s (%s)", cfg.Key, cfg.Environment),
	})
	return cfg, nil
}

// Update changes the value, description and flags of an existing entry
func (s *ConfigService) Update(ctx context.Context, user *models.User, environment, key string, in UpdateInput, projectID *string) (*models.Configuration, error) {
	cfg, err := s.guard.AuthorizeConfig(ctx, user, environment, key, projectID)
	if err != nil {
		return nil, err
	}

	cfg.Value = in.Value
	cfg.Description = in.Description
	cfg.IsEncrypted = in.IsEncrypted
	cfg.IsSensitive = in.IsSensitive
	cfg.UpdatedBy = user.Username
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionUpdateConfig,
		ResourceType: models.ResourceConfiguration,
		ResourceID:   cfg.ID,
		ResourceName: cfg.Key,
		Description:  fmt.Sprintf("Configuration updated: %s (%s)", cfg.Key, cfg.Environment),
	})
	return cfg, nil
}

// Delete removes one entry addressed by id or key. A miss is audited as a failure.
func (s *ConfigService) Delete(ctx context.Context, user *models.User, environment, idOrKey string, projectID *string) error {
	cfg, err := s.guard.AuthorizeConfig(ctx, user, environment, idOrKey, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit.RecordFailure(ctx, user, models.ActionDeleteConfig, models.ResourceConfiguration,
				fmt.Sprintf("Configuration not found: %s (%s)", idOrKey, environment))
		}
		return err
	}

	if err := s.configs.Delete(ctx, cfg.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionDeleteConfig,
		ResourceType: models.ResourceConfiguration,
		ResourceID:   cfg.ID,
		ResourceName: cfg.Key,
		Description:  fmt.Sprintf("Configuration deleted: %s (%s)", cfg.Key, environment),
	})
	return nil
}

// Search returns the user's entries in environment whose key contains q (case-sensitive)
func (s *ConfigService) Search(ctx context.Context, user *models.User, environment, q string) ([]*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	return s.configs.SearchByKey(ctx, user.ID, environment, q)
}

// Environments lists the distinct environments of the user's entries
func (s *ConfigService) Environments(ctx context.Context, user *models.User) ([]string, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	return s.configs.EnvironmentsForUser(ctx, user.ID)
}

func (s *ConfigService) entries(ctx context.Context, user *models.User, environment, projectID string) ([]*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	if projectID != "" {
		if _, err := s.guard.AuthorizeProject(ctx, user, projectID); err != nil {
			return nil, err
		}
		return s.configs.ListByProject(ctx, projectID, environment)
	}
	entries, err := s.configs.ListByUserAndEnvironment(ctx, user.ID, environment)
	if err != nil {
		return nil, err
	}
	if err := uniqueKeys(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// uniqueKeys rejects a flattened view in which two projects define the same key,
// since one value would silently shadow the other.
func uniqueKeys(entries []*models.Configuration) error {
	owner := make(map[string]string, len(entries))
	for _, cfg := range entries {
		projectID := ""
		if cfg.ProjectID != nil {
			projectID = *cfg.ProjectID
		}
		if prev, ok := owner[cfg.Key]; ok && prev != projectID {
			return fmt.Errorf("%w: key %s is defined in more than one project; pass projectId", ErrConflict, cfg.Key)
		}
		owner[cfg.Key] = projectID
	}
	return nil
}

// AsMap projects the entries of environment to key/value pairs. With mask set,
// sensitive entries carry models.SensitiveMask instead of their value.
func (s *ConfigService) AsMap(ctx context.Context, user *models.User, environment, projectID string, mask bool) (map[string]string, error) {
	entries, err := s.entries(ctx, user, environment, projectID)
	if err != nil {
		return nil, err
	}
	return toMap(entries, mask), nil
}

func toMap(entries []*models.Configuration, mask bool) map[string]string {
	out := make(map[string]string, len(entries))
	for _, cfg := range entries {
		out[cfg.Key] = cfg.DisplayValue(mask)
	}
	return out
}

// ExportDotenv renders the entries of environment as a dotenv document and, when an
// archiver is configured, stores a copy. Archive failures do not fail the export.
func (s *ConfigService) ExportDotenv(ctx context.Context, user *models.User, environment, projectID string) (*Export, error) {
	entries, err := s.entries(ctx, user, environment, projectID)
	if err != nil {
		return nil, err
	}
	doc, err := formatDotenv(environment, s.now(), entries)
	if err != nil {
		return nil, err
	}

	export := &Export{Environment: environment, Document: doc}
	if s.archiver != nil {
		archivePath, err := s.archiver.Archive(ctx, user.ID, environment, []byte(doc))
		if err != nil {
			slog.Warn("export archive failed", "environment", environment, "user_id", user.ID, "error", err)
		} else {
			export.ArchivePath = archivePath
		}
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionExportConfig,
		ResourceType: models.ResourceConfiguration,
		ResourceID:   projectID,
		ResourceName: environment,
		Description:  fmt.Sprintf("Environment exported: %s (%d entries)", environment, len(entries)),
	})
	return export, nil
}

// Batch upserts every entry of in.Configs in one transaction. Existing entries only
// get their value replaced. Entries are returned in key order.
func (s *ConfigService) Batch(ctx context.Context, user *models.User, in BatchInput) ([]*models.Configuration, error) {
	return s.upsertMany(ctx, user, models.ActionCreateConfig, in)
}

// Import parses a dotenv document and upserts its entries like Batch
func (s *ConfigService) Import(ctx context.Context, user *models.User, projectID, environment, document string) ([]*models.Configuration, error) {
	values, err := parseDotenv(document)
	if err != nil {
		return nil, err
	}
	cfgs, err := s.upsertMany(ctx, user, models.ActionImportConfig, BatchInput{
		ProjectID:   projectID,
		Environment: environment,
		Configs:     values,
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionImportConfig,
		ResourceType: models.ResourceProject,
		ResourceID:   projectID,
		ResourceName: environment,
		Description:  fmt.Sprintf("Environment imported: %s (%d entries)", environment, len(cfgs)),
	})
	return cfgs, nil
}

func (s *ConfigService) upsertMany(ctx context.Context, user *models.User, failureAction string, in BatchInput) ([]*models.Configuration, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	if in.ProjectID == "" {
		return nil, fmt.Errorf("%w: projectId is required", ErrValidation)
	}
	if err := validateEnvironment(in.Environment); err != nil {
		return nil, err
	}
	if len(in.Configs) == 0 {
		return nil, fmt.Errorf("%w: configs must not be empty", ErrValidation)
	}

	keys := make([]string, 0, len(in.Configs))
	for k := range in.Configs {
		if err := validateKey(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	project, err := s.guard.AuthorizeProjectForWrite(ctx, user, in.ProjectID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.audit.RecordFailure(ctx, user, failureAction, models.ResourceConfiguration, err.Error())
		}
		return nil, err
	}

	cfgs := make([]*models.Configuration, 0, len(keys))
	for _, k := range keys {
		cfgs = append(cfgs, &models.Configuration{
			Key:         k,
			Value:       in.Configs[k],
			Environment: in.Environment,
			CreatedBy:   user.Username,
			UpdatedBy:   user.Username,
			UserID:      user.ID,
			ProjectID:   &project.ID,
		})
	}

	created, err := s.configs.UpsertValues(ctx, cfgs)
	if err != nil {
		return nil, err
	}
	for i, cfg := range cfgs {
		s.recordUpsert(ctx, user, cfg, created[i])
	}
	return cfgs, nil
}
