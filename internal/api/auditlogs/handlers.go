// Package auditlogs serves read access to the caller's own audit trail.
//
// Every endpoint is scoped to the authenticated user. The userId parameter accepted
// by /filter is ignored and replaced with the caller's id.
package auditlogs

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// dateLayouts are accepted for startDate and endDate, tried in order.
// Values without a zone are read as UTC.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05"}

// Handlers serves /api/audit-logs
type Handlers struct {
	audit *services.AuditService
}

// NewHandlers creates the audit-log handlers
func NewHandlers(audit *services.AuditService) *Handlers {
	return &Handlers{audit: audit}
}

// pageParams reads page and size, defaulting to 0 and services.DefaultPageSize
func pageParams(c *gin.Context) (page, size int, err error) {
	page, err = intQuery(c, "page", 0)
	if err != nil {
		return 0, 0, err
	}
	size, err = intQuery(c, "size", services.DefaultPageSize)
	return page, size, err
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func parseDate(raw string) (*time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q, expected RFC3339 or 2006-01-02T15:04:05", raw)
}

// dateQuery parses an optional date parameter; required turns absence into an error
func dateQuery(c *gin.Context, name string, required bool) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required", name)
		}
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

// list runs one paged query built by build and writes the page
func (h *Handlers) list(c *gin.Context, build func(*gin.Context) (services.Query, error)) {
	user := middleware.CurrentUser(c)
	if user == nil {
		apierror.Abort(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	page, size, err := pageParams(c)
	if err != nil {
		apierror.Respond(c, http.StatusBadRequest, err.Error())
		return
	}
	q, err := build(c)
	if err != nil {
		apierror.Respond(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.audit.List(c.Request.Context(), user.ID, q, page, size)
	if err != nil {
		apierror.FromService(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func noFilter(*gin.Context) (services.Query, error) {
	return services.Query{}, nil
}

// @Summary      List my audit logs
// @Description  Pages through the caller's audit entries, newest first.
// @Tags         Audit Logs
// @Security     Bearer
// @Produce      json
// @Param        page  query  int  false  "Page index (default 0)"
// @Param        size  query  int  false  "Page size (default 20, max 100)"
// @Success      200  {object}  services.Page
// @Failure      400  {object}  apierror.Body
// @Failure      401  {object}  apierror.Body
// @Router       /api/audit-logs [get]
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) { h.list(c, noFilter) }
}

// DateRange serves GET /api/audit-logs/date-range?startDate=&endDate=
func (h *Handlers) DateRange() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.list(c, func(c *gin.Context) (services.Query, error) {
			start, err := dateQuery(c, "startDate", true)
			if err != nil {
				return services.Query{}, err
			}
			end, err := dateQuery(c, "endDate", true)
			if err != nil {
				return services.Query{}, err
			}
			return services.Query{StartDate: start, EndDate: end}, nil
		})
	}
}

// Filter serves GET /api/audit-logs/filter with optional action, resourceType and dates
func (h *Handlers) Filter() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.list(c, func(c *gin.Context) (services.Query, error) {
			start, err := dateQuery(c, "startDate", false)
			if err != nil {
				return services.Query{}, err
			}
			end, err := dateQuery(c, "endDate", false)
			if err != nil {
				return services.Query{}, err
			}
			return services.Query{
				Action:       c.Query("action"),
				ResourceType: c.Query("resourceType"),
				StartDate:    start,
				EndDate:      end,
			}, nil
		})
	}
}

// Recent serves GET /api/audit-logs/recent: the caller's last ten entries
func (h *Handlers) Recent() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apierror.Abort(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		logs, err := h.audit.Recent(c.Request.Context(), user.ID)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

// Register mounts the handlers on an authenticated /api/audit-logs group
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.List())
	g.GET("/my", h.List())
	g.GET("/date-range", h.DateRange())
	g.GET("/filter", h.Filter())
	g.GET("/recent", h.Recent())
}
