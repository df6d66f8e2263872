package models

import "time"

// Project groups environment-scoped configurations and owns one API key.
// A project belongs to exactly one user.
type Project struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	UserID      string    `db:"user_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// OwnedBy reports whether userID owns the project
func (p *Project) OwnedBy(userID string) bool {
	return p != nil && p.UserID == userID
}
