// Package middleware provides Gin HTTP middleware for authentication, rate limiting,
// security headers, request metadata and request logging.
//
// Middleware ordering is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RequestMetadata → [RateLimit → Auth] → Handler
//
// Rate limiting runs before auth so brute-force attempts are blocked before any DB work.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/services"
	"github.com/gin-gonic/gin"
)

// Context keys populated by AuthMiddleware
const (
	UserKey   = "user"
	UserIDKey = "user_id"
)

// Authenticator resolves a bearer token to an active user.
// *services.AccountService satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware requires a valid JWT bearer token and stores the resolved user
// in the gin context under UserKey.
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c.GetHeader("Authorization"))
		if problem != "" {
			apierror.Abort(c, http.StatusUnauthorized, problem)
			return
		}

		user, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, services.ErrUnauthorized) {
				apierror.Abort(c, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			apierror.Internal(c, err)
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleware, or nil outside an
// authenticated route.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
// A non-empty problem describes why the header was rejected.
func bearerToken(header string) (token, problem string) {
	if header == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}
