package models

import "time"

// Audit statuses
const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusFailure = "FAILURE"
)

// Audited resource types
const (
	ResourceProject       = "PROJECT"
	ResourceConfiguration = "CONFIGURATION"
	ResourceUser          = "USER"
)

// Audited actions
const (
	ActionLogin         = "LOGIN"
	ActionCreateProject = "CREATE_PROJECT"
	ActionUpdateProject = "UPDATE_PROJECT"
	ActionDeleteProject = "DELETE_PROJECT"
	ActionCreateConfig  = "CREATE_CONFIG"
	ActionUpdateConfig  = "UPDATE_CONFIG"
	ActionDeleteConfig  = "DELETE_CONFIG"
	ActionExportConfig  = "EXPORT_CONFIG"
	ActionImportConfig  = "IMPORT_CONFIG"
)

// AuditLog is an immutable audit trail entry. CreatedAt is assigned by the database.
type AuditLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"userId,omitempty"` // nil for anonymous actors
	Username     string    `db:"username" json:"username"`        // snapshot at write time
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resourceType"`
	ResourceID   *string   `db:"resource_id" json:"resourceId,omitempty"`
	ResourceName *string   `db:"resource_name" json:"resourceName,omitempty"`
	Description  string    `db:"description" json:"description"`
	IPAddress    *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent    *string   `db:"user_agent" json:"userAgent,omitempty"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage *string   `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
