// Package session implements username/password login and the current-user endpoint.
package session

import (
	"net/http"
	"time"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// Handlers serves /api/auth
type Handlers struct {
	accounts *services.AccountService
}

// NewHandlers creates the session handlers
func NewHandlers(accounts *services.AccountService) *Handlers {
	return &Handlers{accounts: accounts}
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UserResponse describes the authenticated user
type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// @Summary      Log in
// @Description  Exchanges a username or email and password for a JWT bearer token. Failed attempts are audited.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  LoginResponse
// @Failure      400  {object}  apierror.Body
// @Failure      401  {object}  apierror.Body
// @Failure      429  {object}  apierror.Body
// @Router       /api/auth/login [post]
func (h *Handlers) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}

		res, err := h.accounts.Login(c.Request.Context(), req.UsernameOrEmail, req.Password)
		if err != nil {
			apierror.FromService(c, err)
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:     res.Token,
			UserID:    res.User.ID,
			Username:  res.User.Username,
			Email:     res.User.Email,
			ExpiresAt: res.ExpiresAt,
		})
	}
}

// Me returns the user resolved by AuthMiddleware
func (h *Handlers) Me() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apierror.Abort(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		c.JSON(http.StatusOK, UserResponse{
			ID:          user.ID,
			Username:    user.Username,
			Email:       user.Email,
			LastLoginAt: user.LastLoginAt,
		})
	}
}
