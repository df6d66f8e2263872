// Package models defines the database model types for ConfigVault.
// Each type corresponds to a table; db tags serve sqlx scanning in the repositories layer.
// Query logic belongs in repositories, access rules in services.
package models

import "time"

// APIKeyPrefix starts every project API key string.
const APIKeyPrefix = "pk_"

// APIKey is the capability token bound to exactly one project.
// Possession of Key grants read access to that project's configurations.
type APIKey struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Key         string     `db:"key"`
	Description string     `db:"description"`
	IsActive    bool       `db:"is_active"`
	CreatedAt   time.Time  `db:"created_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
	LastUsed    *time.Time `db:"last_used"`
	UserID      string     `db:"user_id"`
	ProjectID   string     `db:"project_id"`
}

// Usable reports whether the key is active and not past its expiry at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
