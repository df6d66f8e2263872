// Package middleware provides the Gin middleware shared by every ConfigVault route.
// Global middleware is registered in internal/api/router.go ahead of the route groups;
// authentication, rate limiting and the client version gate are attached per group.
package middleware

import (
	"strconv"
	"time"

	"github.com/configvault/configvault/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// noRouteLabel replaces the path of unmatched requests so scanners cannot inflate label cardinality
const noRouteLabel = "<no-route>"

// MetricsMiddleware records telemetry.HTTPRequestsTotal and telemetry.HTTPRequestDuration
// for every request. The path label is the matched route template
// (/api/config/:environment/:projectId/:key), never the raw URL, so tenant ids and
// configuration keys stay out of the metrics.
//
// Register it after gin.Recovery() and RequestIDMiddleware so the status written by
// error handlers and recovered panics is the one counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
