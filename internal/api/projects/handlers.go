// Package projects implements the authenticated /api/projects endpoints.
package projects

import (
	"net/http"
	"time"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/api/configs"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// Handlers serves the project endpoints
type Handlers struct {
	projects *services.ProjectService
}

// NewHandlers creates the project handlers
func NewHandlers(projects *services.ProjectService) *Handlers {
	return &Handlers{projects: projects}
}

// Request is the body of project create and update calls
type Request struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Response is the JSON shape of a project. APIKey is the project's key string.
type Response struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	APIKey      string    `json:"apiKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newResponse(d *services.ProjectDetails) Response {
	resp := Response{
		ID:          d.Project.ID,
		Name:        d.Project.Name,
		Description: d.Project.Description,
		CreatedAt:   d.Project.CreatedAt,
		UpdatedAt:   d.Project.UpdatedAt,
	}
	if d.APIKey != nil {
		resp.APIKey = d.APIKey.Key
	}
	return resp
}

// @Summary      List projects
// @Description  Lists the caller's projects with their API keys.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Success      200  {array}   Response
// @Failure      401  {object}  apierror.Body
// @Router       /api/projects [get]
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.projects.List(c.Request.Context(), middleware.CurrentUser(c))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		out := make([]Response, 0, len(list))
		for _, d := range list {
			out = append(out, newResponse(d))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary      Create project
// @Description  Creates a project together with its API key. Both are stored or neither is.
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  Request  true  "Project"
// @Success      201  {object}  Response
// @Failure      400  {object}  apierror.Body
// @Router       /api/projects [post]
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		d, err := h.projects.Create(c.Request.Context(), middleware.CurrentUser(c), req.Name, req.Description)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusCreated, newResponse(d))
	}
}

// Get serves GET /api/projects/:id
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := h.projects.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, newResponse(d))
	}
}

// Update serves PUT /api/projects/:id
func (h *Handlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		d, err := h.projects.Update(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), req.Name, req.Description)
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, newResponse(d))
	}
}

// Delete serves DELETE /api/projects/:id. The project's key and entries go with it.
func (h *Handlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.projects.Delete(c.Request.Context(), middleware.CurrentUser(c), c.Param("id")); err != nil {
			apierror.FromService(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Configs serves GET /api/projects/:id/configs[?environment=]
func (h *Handlers) Configs() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := h.projects.Configs(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), c.Query("environment"))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, configs.NewResponses(cfgs))
	}
}

// Environments serves GET /api/projects/:id/environments
func (h *Handlers) Environments() gin.HandlerFunc {
	return func(c *gin.Context) {
		envs, err := h.projects.Environments(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
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

// Register mounts the handlers on an authenticated /api/projects group
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.List())
	g.POST("", h.Create())
	g.GET("/:id", h.Get())
	g.PUT("/:id", h.Update())
	g.DELETE("/:id", h.Delete())
	g.GET("/:id/configs", h.Configs())
	g.GET("/:id/environments", h.Environments())
}
