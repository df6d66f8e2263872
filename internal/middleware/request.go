package middleware

import (
	"log/slog"
	"time"

	"github.com/configvault/configvault/internal/audit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request identifier.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware reuses an inbound X-Request-ID or generates a UUID, stores it
// under RequestIDKey and echoes it on the response so clients can correlate logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestMetadataMiddleware attaches the caller's IP address and user agent to the
// request context. Services read them back when writing audit entries.
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		md := audit.MetadataFromRequest(c.Request)
		c.Request = c.Request.WithContext(audit.WithRequestMetadata(c.Request.Context(), md))
		c.Next()
	}
}

// LoggerMiddleware logs one structured record per request once the handler chain
// returns. The output format follows the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", audit.ClientIP(c.Request)),
			slog.String("request_id", c.GetString(RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
