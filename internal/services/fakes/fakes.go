// Package fakes provides in-memory implementations of the service store interfaces
// for service and handler tests. They follow the repository contracts: lookups
// return (nil, nil) on a miss and unique violations yield repositories.ErrDuplicate.
package fakes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/db/repositories"
	"github.com/google/uuid"
)

// ErrInjected is a generic store failure for tests that set a Fail* field
var ErrInjected = errors.New("injected store failure")

// DB holds every table in memory. The zero value is not usable; call New.
type DB struct {
	mu sync.Mutex

	users    map[string]*models.User
	projects map[string]*models.Project
	keys     map[string]*models.APIKey
	configs  map[string]*models.Configuration
	audit    []*models.AuditLog

	// clock hands out strictly increasing timestamps
	clock time.Time

	// FailAuditWrites makes CreateAuditLog fail
	FailAuditWrites bool
	// FailUpsertAt makes UpsertValues fail on the entry with this key
	FailUpsertAt string
}

// New returns an empty database
func New() *DB {
	return &DB{
		users:    make(map[string]*models.User),
		projects: make(map[string]*models.Project),
		keys:     make(map[string]*models.APIKey),
		configs:  make(map[string]*models.Configuration),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (db *DB) tick() time.Time {
	db.clock = db.clock.Add(time.Millisecond)
	return db.clock
}

// Users returns the UserStore view
func (db *DB) Users() *Users { return &Users{db} }

// Projects returns the ProjectStore view
func (db *DB) Projects() *Projects { return &Projects{db} }

// APIKeys returns the APIKeyStore view
func (db *DB) APIKeys() *APIKeys { return &APIKeys{db} }

// Configs returns the ConfigStore view
func (db *DB) Configs() *Configs { return &Configs{db} }

// Audit returns the AuditStore view
func (db *DB) Audit() *Audit { return &Audit{db} }

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

// Users implements services.UserStore
type Users struct{ db *DB }

// AddUser stores u directly, assigning an id when it has none
func (s *Users) AddUser(u *models.User) *models.User {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	s.db.users[u.ID] = u
	return u
}

func (s *Users) CreateUser(_ context.Context, u *models.User) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return repositories.ErrDuplicate
		}
	}
	u.ID = uuid.New().String()
	u.CreatedAt = s.db.tick()
	s.db.users[u.ID] = u
	return nil
}

func (s *Users) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.users[id], nil
}

func (s *Users) GetUserByUsernameOrEmail(_ context.Context, identifier string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if u.Username == identifier || u.Email == identifier {
			return u, nil
		}
	}
	return nil, nil
}

func (s *Users) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if u, ok := s.db.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (s *Users) CountUsers(context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.users), nil
}

// ---------------------------------------------------------------------------
// projects
// ---------------------------------------------------------------------------

// Projects implements services.ProjectStore
type Projects struct{ db *DB }

func (s *Projects) CreateWithAPIKey(_ context.Context, p *models.Project, k *models.APIKey) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.keys {
		if existing.Key == k.Key {
			return repositories.ErrDuplicate
		}
	}
	now := s.db.tick()
	p.ID = uuid.New().String()
	p.CreatedAt, p.UpdatedAt = now, now
	k.ID = uuid.New().String()
	k.ProjectID = p.ID
	k.UserID = p.UserID
	k.CreatedAt = now
	s.db.projects[p.ID] = p
	s.db.keys[k.ID] = k
	return nil
}

func (s *Projects) GetProjectForUser(_ context.Context, id, userID string) (*models.Project, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if p, ok := s.db.projects[id]; ok && p.UserID == userID {
		return p, nil
	}
	return nil, nil
}

func (s *Projects) GetProjectByID(_ context.Context, id string) (*models.Project, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.projects[id], nil
}

func (s *Projects) ListProjectsByUser(_ context.Context, userID string) ([]*models.Project, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*models.Project
	for _, p := range s.db.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Projects) UpdateProject(_ context.Context, p *models.Project) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p.UpdatedAt = s.db.tick()
	s.db.projects[p.ID] = p
	return nil
}

func (s *Projects) DeleteProject(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for kid, k := range s.db.keys {
		if k.ProjectID == id {
			delete(s.db.keys, kid)
		}
	}
	for cid, c := range s.db.configs {
		if c.InProject(id) {
			delete(s.db.configs, cid)
		}
	}
	delete(s.db.projects, id)
	return nil
}

// ---------------------------------------------------------------------------
// api keys
// ---------------------------------------------------------------------------

// APIKeys implements services.APIKeyStore
type APIKeys struct{ db *DB }

func (s *APIKeys) GetAPIKeyByKey(_ context.Context, key string) (*models.APIKey, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, k := range s.db.keys {
		if k.Key == key {
			return k, nil
		}
	}
	return nil, nil
}

func (s *APIKeys) GetAPIKeyByProject(_ context.Context, projectID string) (*models.APIKey, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, k := range s.db.keys {
		if k.ProjectID == projectID {
			return k, nil
		}
	}
	return nil, nil
}

func (s *APIKeys) UpdateLastUsed(_ context.Context, keyID string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if k, ok := s.db.keys[keyID]; ok {
		k.LastUsed = &at
	}
	return nil
}

// Deactivate switches a key off the way an operator would directly in the database
func (s *APIKeys) Deactivate(keyID string) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if k, ok := s.db.keys[keyID]; ok {
		k.IsActive = false
	}
}

// KeysForProject counts the API keys bound to projectID
func (s *APIKeys) KeysForProject(projectID string) int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, k := range s.db.keys {
		if k.ProjectID == projectID {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// configurations
// ---------------------------------------------------------------------------

// Configs implements services.ConfigStore
type Configs struct{ db *DB }

func copyConfig(c *models.Configuration) *models.Configuration {
	cp := *c
	if c.ProjectID != nil {
		pid := *c.ProjectID
		cp.ProjectID = &pid
	}
	return &cp
}

func (s *Configs) findNatural(key, env, projectID string) *models.Configuration {
	for _, c := range s.db.configs {
		if c.Key == key && c.Environment == env && c.InProject(projectID) {
			return c
		}
	}
	return nil
}

// upsertLocked mirrors the ON CONFLICT statements; valueOnly keeps existing metadata
func (s *Configs) upsertLocked(cfg *models.Configuration, valueOnly bool) (bool, error) {
	if cfg.ProjectID == nil {
		return false, errors.New("upsert requires a project")
	}
	now := s.db.tick()
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = cfg.CreatedBy
	}
	if existing := s.findNatural(cfg.Key, cfg.Environment, *cfg.ProjectID); existing != nil {
		existing.Value = cfg.Value
		if !valueOnly {
			existing.Description = cfg.Description
			existing.IsEncrypted = cfg.IsEncrypted
			existing.IsSensitive = cfg.IsSensitive
		}
		existing.UpdatedAt = now
		existing.UpdatedBy = cfg.UpdatedBy
		*cfg = *copyConfig(existing)
		return false, nil
	}
	cfg.ID = uuid.New().String()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	s.db.configs[cfg.ID] = copyConfig(cfg)
	return true, nil
}

func (s *Configs) Upsert(_ context.Context, cfg *models.Configuration) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.upsertLocked(cfg, false)
}

func (s *Configs) UpsertValues(_ context.Context, cfgs []*models.Configuration) ([]bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := make(map[string]*models.Configuration, len(s.db.configs))
	for id, c := range s.db.configs {
		snapshot[id] = copyConfig(c)
	}

	created := make([]bool, len(cfgs))
	for i, cfg := range cfgs {
		if s.db.FailUpsertAt != "" && cfg.Key == s.db.FailUpsertAt {
			s.db.configs = snapshot
			return nil, ErrInjected
		}
		ok, err := s.upsertLocked(cfg, true)
		if err != nil {
			s.db.configs = snapshot
			return nil, err
		}
		created[i] = ok
	}
	return created, nil
}

func (s *Configs) Create(_ context.Context, cfg *models.Configuration) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.configs {
		if c.Key != cfg.Key || c.Environment != cfg.Environment {
			continue
		}
		if cfg.ProjectID == nil && c.ProjectID == nil && c.UserID == cfg.UserID {
			return repositories.ErrDuplicate
		}
		if cfg.ProjectID != nil && c.InProject(*cfg.ProjectID) {
			return repositories.ErrDuplicate
		}
	}
	now := s.db.tick()
	cfg.ID = uuid.New().String()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = cfg.CreatedBy
	}
	s.db.configs[cfg.ID] = copyConfig(cfg)
	return nil
}

func (s *Configs) Update(_ context.Context, cfg *models.Configuration) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cfg.UpdatedAt = s.db.tick()
	if _, ok := s.db.configs[cfg.ID]; ok {
		s.db.configs[cfg.ID] = copyConfig(cfg)
	}
	return nil
}

func (s *Configs) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.configs, id)
	return nil
}

func (s *Configs) GetByID(_ context.Context, id string) (*models.Configuration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if c, ok := s.db.configs[id]; ok {
		return copyConfig(c), nil
	}
	return nil, nil
}

func (s *Configs) GetByNaturalKey(_ context.Context, key, env, projectID string) (*models.Configuration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if c := s.findNatural(key, env, projectID); c != nil {
		return copyConfig(c), nil
	}
	return nil, nil
}

func (s *Configs) GetLegacy(_ context.Context, key, env, userID string) (*models.Configuration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.configs {
		if c.Key == key && c.Environment == env && c.UserID == userID && c.ProjectID == nil {
			return copyConfig(c), nil
		}
	}
	return nil, nil
}

func (s *Configs) filter(keep func(*models.Configuration) bool) []*models.Configuration {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*models.Configuration{}
	for _, c := range s.db.configs {
		if keep(c) {
			out = append(out, copyConfig(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (s *Configs) ListByUser(_ context.Context, userID string) ([]*models.Configuration, error) {
	return s.filter(func(c *models.Configuration) bool { return c.UserID == userID }), nil
}

func (s *Configs) ListByUserAndEnvironment(_ context.Context, userID, env string) ([]*models.Configuration, error) {
	return s.filter(func(c *models.Configuration) bool { return c.UserID == userID && c.Environment == env }), nil
}

func (s *Configs) ListByProject(_ context.Context, projectID, env string) ([]*models.Configuration, error) {
	return s.filter(func(c *models.Configuration) bool {
		return c.InProject(projectID) && (env == "" || c.Environment == env)
	}), nil
}

func (s *Configs) SearchByKey(_ context.Context, userID, env, q string) ([]*models.Configuration, error) {
	return s.filter(func(c *models.Configuration) bool {
		return c.UserID == userID && c.Environment == env && strings.Contains(c.Key, q)
	}), nil
}

func distinctEnvironments(cfgs []*models.Configuration) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, c := range cfgs {
		if !seen[c.Environment] {
			seen[c.Environment] = true
			out = append(out, c.Environment)
		}
	}
	return out
}

func (s *Configs) EnvironmentsForUser(ctx context.Context, userID string) ([]string, error) {
	cfgs, _ := s.ListByUser(ctx, userID)
	return distinctEnvironments(cfgs), nil
}

func (s *Configs) EnvironmentsForProject(ctx context.Context, projectID string) ([]string, error) {
	cfgs, _ := s.ListByProject(ctx, projectID, "")
	return distinctEnvironments(cfgs), nil
}

// Count returns the number of stored entries
func (s *Configs) Count() int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.configs)
}

// ---------------------------------------------------------------------------
// audit
// ---------------------------------------------------------------------------

// Audit implements services.AuditStore
type Audit struct{ db *DB }

func (s *Audit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.FailAuditWrites {
		return ErrInjected
	}
	log.ID = uuid.New().String()
	log.CreatedAt = s.db.tick()
	cp := *log
	s.db.audit = append(s.db.audit, &cp)
	return nil
}

func (s *Audit) ListAuditLogs(_ context.Context, f repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var matched []*models.AuditLog
	for _, l := range s.db.audit {
		switch {
		case f.UserID != nil && (l.UserID == nil || *l.UserID != *f.UserID):
		case f.Action != nil && l.Action != *f.Action:
		case f.ResourceType != nil && l.ResourceType != *f.ResourceType:
		case f.StartDate != nil && l.CreatedAt.Before(*f.StartDate):
		case f.EndDate != nil && l.CreatedAt.After(*f.EndDate):
		default:
			cp := *l
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset >= total {
		return []*models.AuditLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Entries returns every stored entry in insertion order
func (s *Audit) Entries() []*models.AuditLog {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]*models.AuditLog, len(s.db.audit))
	copy(out, s.db.audit)
	return out
}
