package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/lib/pq"
)

var configCols = []string{
	"id", "key", "value", "environment", "description", "is_encrypted", "is_sensitive",
	"created_at", "updated_at", "created_by", "updated_by", "user_id", "project_id",
}

var upsertReturnCols = []string{
	"id", "description", "is_encrypted", "is_sensitive", "created_at", "created_by", "user_id", "inserted",
}

func newConfigRepo(t *testing.T) (*ConfigurationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	return NewConfigurationRepository(db), mock
}

func sampleConfigRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(configCols).
		AddRow("cfg-1", "DB_URL", "postgres://x", "prod", "", false, false, now, now, "alice", "alice", "user-1", "proj-1").
		AddRow("cfg-2", "SECRET", "s3cr3t", "prod", "api secret", false, true, now, now, "alice", "alice", "user-1", "proj-1")
}

func projectConfig(key, value string) *models.Configuration {
	return &models.Configuration{
		Key:         key,
		Value:       value,
		Environment: "prod",
		UserID:      "user-1",
		CreatedBy:   "alice",
		ProjectID:   strPtr("proj-1"),
	}
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestUpsert_Inserted(t *testing.T) {
	repo, mock := newConfigRepo(t)
	created := time.Now()
	mock.ExpectQuery("INSERT INTO configurations .* ON CONFLICT ON CONSTRAINT uq_configurations_natural_key DO UPDATE").
		WillReturnRows(sqlmock.NewRows(upsertReturnCols).
			AddRow("cfg-1", "", false, false, created, "alice", "user-1", true))

	cfg := projectConfig("DB_URL", "x")
	inserted, err := repo.Upsert(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}
	if cfg.ID != "cfg-1" {
		t.Errorf("ID = %q, want cfg-1", cfg.ID)
	}
}

func TestUpsert_UpdatedKeepsOriginalCreation(t *testing.T) {
	repo, mock := newConfigRepo(t)
	originalCreated := time.Now().Add(-48 * time.Hour)
	mock.ExpectQuery("INSERT INTO configurations").
		WillReturnRows(sqlmock.NewRows(upsertReturnCols).
			AddRow("cfg-1", "", false, false, originalCreated, "bob", "user-1", false))

	cfg := projectConfig("DB_URL", "y")
	inserted, err := repo.Upsert(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Error("inserted = true, want false")
	}
	if !cfg.CreatedAt.Equal(originalCreated) {
		t.Errorf("CreatedAt = %v, want original %v", cfg.CreatedAt, originalCreated)
	}
	if cfg.CreatedBy != "bob" {
		t.Errorf("CreatedBy = %q, want original creator bob", cfg.CreatedBy)
	}
	if cfg.UpdatedAt.Before(originalCreated) {
		t.Error("UpdatedAt should be after the original creation")
	}
}

func TestUpsert_RequiresProject(t *testing.T) {
	repo, _ := newConfigRepo(t)
	cfg := projectConfig("K", "v")
	cfg.ProjectID = nil
	if _, err := repo.Upsert(context.Background(), cfg); err == nil {
		t.Error("expected error for project-less upsert")
	}
}

// ---------------------------------------------------------------------------
// UpsertValues: transactional batch
// ---------------------------------------------------------------------------

func TestUpsertValues_AllCommitted(t *testing.T) {
	repo, mock := newConfigRepo(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO configurations .* SET\\s+value = EXCLUDED.value,\\s+updated_at").
		WillReturnRows(sqlmock.NewRows(upsertReturnCols).AddRow("cfg-1", "", false, false, now, "alice", "user-1", true))
	mock.ExpectQuery("INSERT INTO configurations").
		WillReturnRows(sqlmock.NewRows(upsertReturnCols).AddRow("cfg-2", "kept", false, true, now, "alice", "user-1", false))
	mock.ExpectCommit()

	cfgs := []*models.Configuration{projectConfig("A", "1"), projectConfig("B", "2")}
	created, err := repo.UpsertValues(context.Background(), cfgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 || !created[0] || created[1] {
		t.Errorf("created = %v, want [true false]", created)
	}
	if cfgs[1].Description != "kept" || !cfgs[1].IsSensitive {
		t.Errorf("existing metadata not read back: %+v", cfgs[1])
	}
}

func TestUpsertValues_FailureRollsBackEverything(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO configurations").
		WillReturnRows(sqlmock.NewRows(upsertReturnCols).AddRow("cfg-1", "", false, false, time.Now(), "alice", "user-1", true))
	mock.ExpectQuery("INSERT INTO configurations").WillReturnError(errDB)
	mock.ExpectRollback()

	_, err := repo.UpsertValues(context.Background(), []*models.Configuration{projectConfig("A", "1"), projectConfig("B", "2")})
	if err == nil {
		t.Fatal("expected error from second upsert")
	}
}

// ---------------------------------------------------------------------------
// Create (legacy strict create)
// ---------------------------------------------------------------------------

func TestCreate_DuplicateLegacyKey(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectExec("INSERT INTO configurations").WillReturnError(&pq.Error{Code: "23505"})

	cfg := projectConfig("K", "v")
	cfg.ProjectID = nil
	if err := repo.Create(context.Background(), cfg); !errors.Is(err, ErrDuplicate) {
		t.Errorf("error = %v, want ErrDuplicate", err)
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectExec("INSERT INTO configurations").WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := projectConfig("K", "v")
	cfg.ProjectID = nil
	if err := repo.Create(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID == "" || cfg.UpdatedBy != "alice" {
		t.Errorf("create did not stamp id/updatedBy: %+v", cfg)
	}
	if !cfg.CreatedAt.Equal(cfg.UpdatedAt) {
		t.Error("createdAt and updatedAt should match on create")
	}
}

// ---------------------------------------------------------------------------
// Update / Delete
// ---------------------------------------------------------------------------

func TestUpdate(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectExec("UPDATE configurations").
		WithArgs("new", "desc", false, true, sqlmock.AnyArg(), "alice", "cfg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	cfg := &models.Configuration{ID: "cfg-1", Value: "new", Description: "desc", IsSensitive: true, UpdatedBy: "alice"}
	if err := repo.Update(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDelete_DBError(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectExec("DELETE FROM configurations WHERE id").WithArgs("cfg-1").WillReturnError(errDB)

	if err := repo.Delete(context.Background(), "cfg-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Lookups and listings
// ---------------------------------------------------------------------------

func TestGetByNaturalKey_NotFound(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("SELECT .* FROM configurations\\s+WHERE key = \\$1 AND environment = \\$2 AND project_id = \\$3").
		WithArgs("DB_URL", "prod", "proj-1").
		WillReturnRows(sqlmock.NewRows(configCols))

	cfg, err := repo.GetByNaturalKey(context.Background(), "DB_URL", "prod", "proj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil, got %+v", cfg)
	}
}

func TestGetLegacy_OnlyProjectless(t *testing.T) {
	repo, mock := newConfigRepo(t)
	now := time.Now()
	mock.ExpectQuery("project_id IS NULL").
		WithArgs("K", "dev", "user-1").
		WillReturnRows(sqlmock.NewRows(configCols).
			AddRow("cfg-9", "K", "v", "dev", "", false, false, now, now, "alice", "alice", "user-1", nil))

	cfg, err := repo.GetLegacy(context.Background(), "K", "dev", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.ProjectID != nil {
		t.Fatalf("cfg = %+v, want legacy entry", cfg)
	}
}

func TestListByProject_WithEnvironment(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("WHERE project_id = \\$1 AND environment = \\$2\\s+ORDER BY key ASC").
		WithArgs("proj-1", "prod").
		WillReturnRows(sampleConfigRows())

	cfgs, err := repo.ListByProject(context.Background(), "proj-1", "prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfgs) != 2 || !cfgs[1].IsSensitive {
		t.Errorf("cfgs = %+v", cfgs)
	}
}

func TestListByProject_AllEnvironments(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("WHERE project_id = \\$1\\s+ORDER BY environment ASC, key ASC").
		WithArgs("proj-1").
		WillReturnRows(sampleConfigRows())

	if _, err := repo.ListByProject(context.Background(), "proj-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListByUserAndEnvironment_OrderedByKey(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("WHERE user_id = \\$1 AND environment = \\$2\\s+ORDER BY key ASC").
		WithArgs("user-1", "prod").
		WillReturnRows(sampleConfigRows())

	if _, err := repo.ListByUserAndEnvironment(context.Background(), "user-1", "prod"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSearchByKey_ScopedToUser(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("WHERE user_id = \\$1 AND environment = \\$2 AND strpos\\(key, \\$3\\) > 0").
		WithArgs("user-1", "prod", "DB").
		WillReturnRows(sampleConfigRows())

	if _, err := repo.SearchByKey(context.Background(), "user-1", "prod", "DB"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvironmentsForProject(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("SELECT DISTINCT environment FROM configurations WHERE project_id").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"environment"}).AddRow("dev").AddRow("prod"))

	envs, err := repo.EnvironmentsForProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(envs) != 2 || envs[0] != "dev" {
		t.Errorf("envs = %v, want [dev prod]", envs)
	}
}

func TestEnvironmentsForUser_DBError(t *testing.T) {
	repo, mock := newConfigRepo(t)
	mock.ExpectQuery("SELECT DISTINCT environment").WillReturnError(errDB)

	if _, err := repo.EnvironmentsForUser(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}
