// audit_repository.go implements AuditRepository: the append-only insert path and
// filtered, paginated reads of the audit trail. Rows are never updated or deleted.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/google/uuid"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs.
// Nil fields are ignored; date bounds are inclusive.
type AuditFilters struct {
	UserID       *string
	Action       *string
	ResourceType *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// CreateAuditLog appends an entry. created_at is assigned by the database and read back.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()

	query := `
		INSERT INTO audit_logs (id, user_id, username, action, resource_type, resource_id, resource_name,
			description, ip_address, user_agent, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	return r.db.QueryRowContext(ctx, query,
		log.ID,
		log.UserID,
		log.Username,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.ResourceName,
		log.Description,
		log.IPAddress,
		log.UserAgent,
		log.Status,
		log.ErrorMessage,
	).Scan(&log.CreatedAt)
}

// ListAuditLogs retrieves audit logs with optional filters and pagination, most recent first
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, v)
		paramIndex++
	}

	if filters.UserID != nil {
		add(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.Action != nil {
		add(` AND action = $%d`, *filters.Action)
	}
	if filters.ResourceType != nil {
		add(` AND resource_type = $%d`, *filters.ResourceType)
	}
	if filters.StartDate != nil {
		add(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		add(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `
		SELECT id, user_id, username, action, resource_type, resource_id, resource_name,
			description, ip_address, user_agent, status, error_message, created_at
		FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		if err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.Username,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.ResourceName,
			&log.Description,
			&log.IPAddress,
			&log.UserAgent,
			&log.Status,
			&log.ErrorMessage,
			&log.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}
