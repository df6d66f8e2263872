package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var projectKeyPattern = regexp.MustCompile(`^pk_[0-9a-f]{32}$`)

func TestCreateProject_ProvisionsExactlyOneActiveKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")

	d, err := h.projects.Create(ctx, alice, "  Payments ", "card processing")
	require.NoError(t, err)

	assert.Equal(t, "Payments", d.Project.Name)
	assert.Equal(t, alice.ID, d.Project.UserID)
	require.NotNil(t, d.APIKey)
	assert.Regexp(t, projectKeyPattern, d.APIKey.Key)
	assert.Equal(t, "Payments API Key", d.APIKey.Name)
	assert.Equal(t, "Auto-generated API key for project: Payments", d.APIKey.Description)
	assert.True(t, d.APIKey.IsActive)
	assert.Equal(t, d.Project.ID, d.APIKey.ProjectID)
	assert.Equal(t, alice.ID, d.APIKey.UserID)
	assert.Equal(t, 1, h.db.APIKeys().KeysForProject(d.Project.ID))

	created := h.auditEntries(models.ActionCreateProject, models.AuditStatusSuccess)
	require.Len(t, created, 1)
	assert.Equal(t, d.Project.ID, *created[0].ResourceID)
}

func TestCreateProject_KeyFailureCreatesNothing(t *testing.T) {
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	h.projects.generateKey = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := h.projects.Create(context.Background(), alice, "Payments", "")
	require.Error(t, err)

	list, err := h.projects.List(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateProject_DuplicateKeyLeavesNoOrphan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")
	h.projects.generateKey = func() (string, error) { return "pk_00000000000000000000000000000000", nil }

	_, err := h.projects.Create(ctx, alice, "First", "")
	require.NoError(t, err)
	_, err = h.projects.Create(ctx, alice, "Second", "")
	require.Error(t, err)

	list, err := h.projects.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0].Project.Name)
}

func TestCreateProject_Validation(t *testing.T) {
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	_, err := h.projects.Create(context.Background(), alice, "   ", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.projects.Create(context.Background(), nil, "Payments", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetAndListProjects_EmbedKeyAndHideForeign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	p := h.addProject(t, alice, "Payments")
	h.addProject(t, bob, "Billing")

	got, err := h.projects.Get(ctx, alice, p.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, p.APIKey.Key, got.APIKey.Key)

	_, err = h.projects.Get(ctx, bob, p.Project.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := h.projects.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Payments", list[0].Project.Name)
	assert.NotNil(t, list[0].APIKey)
}

func TestUpdateProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	p := h.addProject(t, alice, "Payments")

	got, err := h.projects.Update(ctx, alice, p.Project.ID, "Payments v2", "new")
	require.NoError(t, err)
	assert.Equal(t, "Payments v2", got.Project.Name)
	assert.Equal(t, "new", got.Project.Description)

	_, err = h.projects.Update(ctx, bob, p.Project.ID, "stolen", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, h.auditEntries(models.ActionUpdateProject, models.AuditStatusFailure), 1)

	again, err := h.projects.Get(ctx, alice, p.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Payments v2", again.Project.Name)
}

func TestDeleteProject_RemovesKeyAndConfigs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	p := h.addProject(t, alice, "Payments")

	_, _, err := h.configs.Upsert(ctx, alice, UpsertInput{Key: "A", Value: "1", Environment: "prod", ProjectID: p.Project.ID})
	require.NoError(t, err)

	err = h.projects.Delete(ctx, bob, p.Project.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, h.auditEntries(models.ActionDeleteProject, models.AuditStatusFailure), 1)

	require.NoError(t, h.projects.Delete(ctx, alice, p.Project.ID))
	assert.Equal(t, 0, h.db.APIKeys().KeysForProject(p.Project.ID))
	assert.Equal(t, 0, h.db.Configs().Count())
	assert.Len(t, h.auditEntries(models.ActionDeleteProject, models.AuditStatusSuccess), 1)

	_, err = h.projects.Get(ctx, alice, p.Project.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectEnvironmentsAndConfigs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	p := h.addProject(t, alice, "Payments")

	for _, env := range []string{"dev", "prod", "prod"} {
		key := "A"
		if env == "prod" {
			key = "B" + env
		}
		_, _, err := h.configs.Upsert(ctx, alice, UpsertInput{Key: key, Value: "1", Environment: env, ProjectID: p.Project.ID})
		require.NoError(t, err)
	}

	envs, err := h.projects.Environments(ctx, alice, p.Project.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev", "prod"}, envs)

	all, err := h.projects.Configs(ctx, alice, p.Project.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	dev, err := h.projects.Configs(ctx, alice, p.Project.ID, "dev")
	require.NoError(t, err)
	assert.Len(t, dev, 1)

	_, err = h.projects.Environments(ctx, bob, p.Project.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.projects.Configs(ctx, bob, p.Project.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
