package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/config"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds the protective response headers added to every response
type SecurityHeadersConfig struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds; 0 omits the header
	HSTSMaxAge            int
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
}

// APISecurityHeadersConfig returns headers suited to a JSON API. HSTS is only sent
// when the server itself terminates TLS.
func APISecurityHeadersConfig(tlsEnabled bool) SecurityHeadersConfig {
	cfg := SecurityHeadersConfig{
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}
	if tlsEnabled {
		cfg.HSTSMaxAge = 31536000
	}
	return cfg
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security", "max-age="+strconv.Itoa(cfg.HSTSMaxAge)+"; includeSubDomains")
		}
		if cfg.FrameOptions != "" {
			c.Header("X-Frame-Options", cfg.FrameOptions)
		}
		if cfg.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if cfg.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", cfg.ReferrerPolicy)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "no-store")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}

var corsAllowedHeaders = strings.Join([]string{
	"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With",
	auth.APIKeyHeader, ClientVersionHeader, RequestIDHeader,
}, ", ")

// CORSMiddleware answers preflight requests and sets CORS headers for allowed origins.
// An allowed origin of "*" admits every origin.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.AllowedMethods) > 0 {
		methods = strings.Join(cfg.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := slices.Contains(cfg.AllowedOrigins, "*") || (origin != "" && slices.Contains(cfg.AllowedOrigins, origin))

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", corsAllowedHeaders)
			c.Header("Access-Control-Expose-Headers", RequestIDHeader+", X-RateLimit-Limit, X-RateLimit-Remaining")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
