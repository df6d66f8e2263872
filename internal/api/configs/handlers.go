// Package configs implements the authenticated configuration endpoints under /api/config.
// Every handler runs behind middleware.AuthMiddleware and passes the caller explicitly
// to services.ConfigService, which owns the access rules.
package configs

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// maxImportBytes bounds the dotenv document accepted by the import endpoint
const maxImportBytes = 1 << 20

// Handlers serves the configuration endpoints
type Handlers struct {
	configs *services.ConfigService
}

// NewHandlers creates the configuration handlers
func NewHandlers(configs *services.ConfigService) *Handlers {
	return &Handlers{configs: configs}
}

// Response is the JSON shape of one configuration entry
type Response struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Environment string    `json:"environment"`
	Description string    `json:"description"`
	IsSecret    bool      `json:"isSecret"`
	IsSensitive bool      `json:"isSensitive"`
	ProjectID   *string   `json:"projectId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	UpdatedBy   string    `json:"updatedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewResponse converts a stored entry to its JSON shape
func NewResponse(cfg *models.Configuration) Response {
	return Response{
		ID:          cfg.ID,
		Key:         cfg.Key,
		Value:       cfg.Value,
		Environment: cfg.Environment,
		Description: cfg.Description,
		IsSecret:    cfg.IsEncrypted,
		IsSensitive: cfg.IsSensitive,
		ProjectID:   cfg.ProjectID,
		CreatedBy:   cfg.CreatedBy,
		UpdatedBy:   cfg.UpdatedBy,
		CreatedAt:   cfg.CreatedAt,
		UpdatedAt:   cfg.UpdatedAt,
	}
}

// NewResponses converts a list of entries, never returning nil
func NewResponses(cfgs []*models.Configuration) []Response {
	out := make([]Response, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, NewResponse(cfg))
	}
	return out
}

// CreateRequest is the body of POST /api/config
type CreateRequest struct {
	Key         string `json:"key" binding:"required"`
	Value       string `json:"value"`
	Environment string `json:"environment" binding:"required"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	IsSecret    bool   `json:"isSecret"`
	IsSensitive bool   `json:"isSensitive"`
}

// UpdateRequest is the body of PUT /api/config/:environment/:key
type UpdateRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
	IsSecret    bool   `json:"isSecret"`
	IsSensitive bool   `json:"isSensitive"`
}

// BatchRequest is the body of POST /api/config/batch
type BatchRequest struct {
	ProjectID   string            `json:"projectId" binding:"required"`
	Environment string            `json:"environment" binding:"required"`
	Configs     map[string]string `json:"configs" binding:"required"`
}

// optionalProjectID returns the projectId query parameter, or nil when absent
func optionalProjectID(c *gin.Context) *string {
	if id := c.Query("projectId"); id != "" {
		return &id
	}
	return nil
}

// @Summary      List configurations
// @Description  Lists the caller's configuration entries, optionally narrowed to an environment and project.
// @Tags         Configurations
// @Security     Bearer
// @Produce      json
// @Param        environment  query  string  false  "Environment"
// @Param        projectId    query  string  false  "Project ID"
// @Success      200  {array}   Response
// @Failure      401  {object}  apierror.Body
// @Failure      404  {object}  apierror.Body  "Project not found"
// @Router       /api/config [get]
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := h.configs.List(c.Request.Context(), middleware.CurrentUser(c), services.ListFilter{
			Environment: c.Query("environment"),
			ProjectID:   c.Query("projectId"),
		})
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, NewResponses(cfgs))
	}
}

// ListForProject serves GET /api/config/:environment/:projectId
func (h *Handlers) ListForProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := h.configs.List(c.Request.Context(), middleware.CurrentUser(c), services.ListFilter{
			Environment: c.Param("environment"),
			ProjectID:   c.Param("projectId"),
		})
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, NewResponses(cfgs))
	}
}

// Environments serves GET /api/config/environments
func (h *Handlers) Environments() gin.HandlerFunc {
	return func(c *gin.Context) {
		envs, err := h.configs.Environments(c.Request.Context(), middleware.CurrentUser(c))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		if envs == nil {
			envs = []string{}
		}
		c.JSON(http.StatusOK, envs)
	}
}

// Get serves GET /api/config/:environment/:projectId/:key
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		cfg, err := h.configs.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("environment"), c.Param("key"), &projectID)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, NewResponse(cfg))
	}
}

// @Summary      Create or update a configuration
// @Description  With a projectId the entry is upserted by (key, environment, project): 201 when the row is new, 200 when it was updated.
// @Description  Without one a legacy entry is created and a duplicate key yields 409.
// @Tags         Configurations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateRequest  true  "Configuration"
// @Success      200  {object}  Response  "Existing project entry updated"
// @Success      201  {object}  Response  "Entry created"
// @Failure      400  {object}  apierror.Body
// @Failure      403  {object}  apierror.Body  "Project owned by another user"
// @Failure      409  {object}  apierror.Body
// @Router       /api/config [post]
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}

		in := services.UpsertInput{
			Key:         req.Key,
			Value:       req.Value,
			Environment: req.Environment,
			Description: req.Description,
			ProjectID:   req.ProjectID,
			IsEncrypted: req.IsSecret,
			IsSensitive: req.IsSensitive,
		}
		user := middleware.CurrentUser(c)

		if in.ProjectID == "" {
			cfg, err := h.configs.Create(c.Request.Context(), user, in)
			if err != nil {
				apierror.FromService(c, err)
				return
			}
			c.JSON(http.StatusCreated, NewResponse(cfg))
			return
		}

		cfg, created, err := h.configs.Upsert(c.Request.Context(), user, in)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, NewResponse(cfg))
	}
}

// Update serves PUT /api/config/:environment/:key[?projectId=]
func (h *Handlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		cfg, err := h.configs.Update(c.Request.Context(), middleware.CurrentUser(c),
			c.Param("environment"), c.Param("key"),
			services.UpdateInput{
				Value:       req.Value,
				Description: req.Description,
				IsEncrypted: req.IsSecret,
				IsSensitive: req.IsSensitive,
			},
			optionalProjectID(c))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, NewResponse(cfg))
	}
}

// Delete serves DELETE /api/config/:environment/:key[?projectId=]. The key segment
// may also carry the entry's id.
func (h *Handlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.configs.Delete(c.Request.Context(), middleware.CurrentUser(c),
			c.Param("environment"), c.Param("key"), optionalProjectID(c))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Search serves GET /api/config/:environment/search?q=
func (h *Handlers) Search() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := h.configs.Search(c.Request.Context(), middleware.CurrentUser(c), c.Param("environment"), c.Query("q"))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, NewResponses(cfgs))
	}
}

// @Summary      Configuration map
// @Description  Returns key/value pairs of an environment. Sensitive values are replaced by ***SENSITIVE***.
// @Tags         Configurations
// @Security     Bearer
// @Produce      json
// @Param        environment  path   string  true   "Environment"
// @Param        projectId    query  string  false  "Project ID"
// @Success      200  {object}  map[string]string
// @Router       /api/config/{environment}/map [get]
func (h *Handlers) Map() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.configs.AsMap(c.Request.Context(), middleware.CurrentUser(c), c.Param("environment"), c.Query("projectId"), true)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// ExportEnv serves GET /api/config/:environment/export/env as a dotenv attachment
func (h *Handlers) ExportEnv() gin.HandlerFunc {
	return func(c *gin.Context) {
		export, err := h.configs.ExportDotenv(c.Request.Context(), middleware.CurrentUser(c), c.Param("environment"), c.Query("projectId"))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.env", export.Environment))
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(export.Document))
	}
}

// Batch serves POST /api/config/batch
func (h *Handlers) Batch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		cfgs, err := h.configs.Batch(c.Request.Context(), middleware.CurrentUser(c), services.BatchInput{
			ProjectID:   req.ProjectID,
			Environment: req.Environment,
			Configs:     req.Configs,
		})
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusCreated, NewResponses(cfgs))
	}
}

// Import serves POST /api/config/:environment/import?projectId= with a dotenv body
func (h *Handlers) Import() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
		if err != nil {
			apierror.Respond(c, http.StatusBadRequest, fmt.Sprintf("Import body must be a dotenv document of at most %d bytes", maxImportBytes))
			return
		}
		cfgs, err := h.configs.Import(c.Request.Context(), middleware.CurrentUser(c), c.Query("projectId"), c.Param("environment"), string(body))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusCreated, NewResponses(cfgs))
	}
}

// Register mounts the handlers on an authenticated /api/config group
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.List())
	g.POST("", h.Create())
	g.GET("/environments", h.Environments())
	g.POST("/batch", h.Batch())
	g.POST("/:environment/import", h.Import())
	g.GET("/:environment/search", h.Search())
	g.GET("/:environment/map", h.Map())
	g.GET("/:environment/export/env", h.ExportEnv())
	g.GET("/:environment/:projectId", h.ListForProject())
	g.GET("/:environment/:projectId/:key", h.Get())
	g.PUT("/:environment/:key", h.Update())
	g.DELETE("/:environment/:key", h.Delete())
}
