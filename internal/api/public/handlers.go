// Package public implements the API-key authenticated read endpoints used by
// applications to fetch their configuration at startup. There is no user session
// here: possession of the project's X-API-Key is the credential.
package public

import (
	"net/http"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// Handlers serves /api/public
type Handlers struct {
	gateway *services.Gateway
}

// NewHandlers creates the public handlers
func NewHandlers(gateway *services.Gateway) *Handlers {
	return &Handlers{gateway: gateway}
}

// @Summary      Read configurations
// @Description  Returns every configuration of the key's project in one environment as a flat map.
// @Description  Values are not masked; the API key is the secret channel.
// @Tags         Public
// @Produce      json
// @Param        X-API-Key    header  string  true  "Project API key"
// @Param        environment  query   string  true  "Environment"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  apierror.Body
// @Failure      401  {object}  apierror.Body  "Missing, unknown, inactive or expired key"
// @Failure      404  {object}  apierror.Body
// @Failure      426  {object}  apierror.Body  "Client SDK too old"
// @Router       /api/public/configs [get]
func (h *Handlers) Configs() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.gateway.Configs(c.Request.Context(), c.GetHeader(auth.APIKeyHeader), c.Query("environment"))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// @Summary      Validate API key
// @Description  Reports whether the key is usable and which project it belongs to. Does not touch lastUsed.
// @Tags         Public
// @Produce      json
// @Param        X-API-Key  header  string  true  "Project API key"
// @Success      200  {object}  services.KeyValidation
// @Failure      401  {object}  apierror.Body
// @Router       /api/public/validate [get]
func (h *Handlers) Validate() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := h.gateway.Validate(c.Request.Context(), c.GetHeader(auth.APIKeyHeader))
		if err != nil {
			apierror.FromService(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// Register mounts the handlers on the /api/public group
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("/configs", h.Configs())
	g.GET("/validate", h.Validate())
}
