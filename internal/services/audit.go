package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/configvault/configvault/internal/audit"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/db/repositories"
	"github.com/configvault/configvault/internal/safego"
	"github.com/configvault/configvault/internal/telemetry"
)

// Audit paging limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	RecentLimit     = 10
)

// anonymousActor is the username snapshot stored when no user is known
const anonymousActor = "anonymous"

// Entry describes one audited action. Empty optional fields are stored as NULL.
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	ResourceName string
	Description  string
}

// Query filters audit reads. Zero values are ignored; date bounds are inclusive.
type Query struct {
	Action       string
	ResourceType string
	StartDate    *time.Time
	EndDate      *time.Time
}

// Page is one page of audit entries, newest first
type Page struct {
	Items         []*models.AuditLog `json:"content"`
	PageNumber    int                `json:"pageNumber"`
	PageSize      int                `json:"pageSize"`
	TotalElements int                `json:"totalElements"`
	TotalPages    int                `json:"totalPages"`
	First         bool               `json:"first"`
	Last          bool               `json:"last"`
}

// NewPage derives the paging fields from the page index, page size and total count.
// An empty result is both the first and the last page.
func NewPage(items []*models.AuditLog, page, size, total int) *Page {
	if items == nil {
		items = []*models.AuditLog{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	return &Page{
		Items:         items,
		PageNumber:    page,
		PageSize:      size,
		TotalElements: total,
		TotalPages:    totalPages,
		First:         page == 0,
		Last:          page+1 >= totalPages,
	}
}

// AuditService writes and reads the audit trail.
//
// Writes are best-effort: a failing store is logged and counted but never reported
// to the caller, so an audited action cannot fail because of its audit entry.
//
// Shipping to external sinks runs in the background with its own deadline, so a
// stalled sink never holds the request that produced the entry.
type AuditService struct {
	store   AuditStore
	shipper audit.Shipper

	writeTimeout time.Duration
	shipTimeout  time.Duration
	shipping     safego.Group
}

const (
	// DefaultAuditWriteTimeout bounds the synchronous insert of one entry
	DefaultAuditWriteTimeout = 5 * time.Second
	// DefaultAuditShipTimeout bounds the delivery of one entry to the shippers
	DefaultAuditShipTimeout = 5 * time.Second
)

// NewAuditService creates an AuditService. shipper may be nil.
func NewAuditService(store AuditStore, shipper audit.Shipper) *AuditService {
	return &AuditService{
		store:        store,
		shipper:      shipper,
		writeTimeout: DefaultAuditWriteTimeout,
		shipTimeout:  DefaultAuditShipTimeout,
	}
}

// Drain waits for in-flight shipments until ctx expires. Call it before closing the shipper.
func (s *AuditService) Drain(ctx context.Context) error {
	return s.shipping.Wait(ctx)
}

// Record stores a successful action performed by actor (nil for anonymous)
func (s *AuditService) Record(ctx context.Context, actor *models.User, e Entry) {
	entry := s.newLog(ctx, actor, e.Action, e.ResourceType, models.AuditStatusSuccess)
	entry.ResourceID = optional(e.ResourceID)
	entry.ResourceName = optional(e.ResourceName)
	entry.Description = e.Description
	s.write(ctx, entry)
}

// RecordFailure stores a rejected or failed action with its error message
func (s *AuditService) RecordFailure(ctx context.Context, actor *models.User, action, resourceType, message string) {
	entry := s.newLog(ctx, actor, action, resourceType, models.AuditStatusFailure)
	entry.ErrorMessage = optional(message)
	s.write(ctx, entry)
}

func (s *AuditService) newLog(ctx context.Context, actor *models.User, action, resourceType, status string) *models.AuditLog {
	entry := &models.AuditLog{
		Username:     anonymousActor,
		Action:       action,
		ResourceType: resourceType,
		Status:       status,
	}
	if actor != nil {
		entry.UserID = optional(actor.ID)
		entry.Username = actor.Username
	}
	if md, ok := audit.MetadataFromContext(ctx); ok {
		entry.IPAddress = optional(md.IPAddress)
		entry.UserAgent = optional(md.UserAgent)
	}
	return entry
}

func (s *AuditService) write(ctx context.Context, entry *models.AuditLog) {
	// The entry outlives a client that disconnects right after the action.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		slog.Error("failed to write audit log",
			"action", entry.Action,
			"status", entry.Status,
			"username", entry.Username,
			"error", err)
		return
	}
	telemetry.AuditEventsTotal.WithLabelValues(entry.Action, entry.Status).Inc()

	if s.shipper != nil {
		s.ship(audit.EntryFromLog(entry))
	}
}

func (s *AuditService) ship(entry *audit.LogEntry) {
	s.shipping.Go("audit-ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.shipTimeout)
		defer cancel()
		if err := s.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit log", "id", entry.ID, "action", entry.Action, "error", err)
		}
	})
}

// List returns one page of userID's entries matching q, newest first
func (s *AuditService) List(ctx context.Context, userID string, q Query, page, size int) (*Page, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", ErrValidation)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
		return nil, fmt.Errorf("%w: endDate is before startDate", ErrValidation)
	}

	filters := repositories.AuditFilters{
		UserID:       &userID,
		Action:       optional(q.Action),
		ResourceType: optional(q.ResourceType),
		StartDate:    q.StartDate,
		EndDate:      q.EndDate,
	}
	logs, total, err := s.store.ListAuditLogs(ctx, filters, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return NewPage(logs, page, size, total), nil
}

// Recent returns userID's ten newest entries
func (s *AuditService) Recent(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	p, err := s.List(ctx, userID, Query{}, 0, RecentLimit)
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
