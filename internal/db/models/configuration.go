package models

import "time"

// SensitiveMask replaces the value of sensitive entries on masked read paths.
const SensitiveMask = "***SENSITIVE***"

// Configuration is one key/value entry. (Key, Environment, ProjectID) is its natural key;
// legacy entries have no project and are unique per (Key, Environment, UserID).
type Configuration struct {
	ID          string    `db:"id"`
	Key         string    `db:"key"`
	Value       string    `db:"value"`
	Environment string    `db:"environment"`
	Description string    `db:"description"`
	IsEncrypted bool      `db:"is_encrypted"`
	IsSensitive bool      `db:"is_sensitive"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	CreatedBy   string    `db:"created_by"`
	UpdatedBy   string    `db:"updated_by"`
	UserID      string    `db:"user_id"`
	ProjectID   *string   `db:"project_id"`
}

// DisplayValue returns the value, or SensitiveMask when mask is set and the entry is sensitive.
func (c *Configuration) DisplayValue(mask bool) string {
	if mask && c.IsSensitive {
		return SensitiveMask
	}
	return c.Value
}

// InProject reports whether the entry belongs to projectID
func (c *Configuration) InProject(projectID string) bool {
	return c.ProjectID != nil && *c.ProjectID == projectID
}
