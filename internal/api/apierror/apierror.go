// Package apierror renders every error response of the API with the same body:
//
//	{"status": 404, "error": "Not Found", "message": "Configuration not found: DB_URL"}
//
// Handlers pass service errors to FromService, which maps the sentinel errors of
// internal/services onto status codes. Anything unrecognised is a 500 whose
// details are logged and reported but never sent to the client.
package apierror

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/configvault/configvault/internal/services"
	"github.com/configvault/configvault/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// Body is the JSON error payload
type Body struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

const internalMessage = "An unexpected error occurred"

var sentinels = []struct {
	err    error
	status int
}{
	{services.ErrUnauthorized, http.StatusUnauthorized},
	{services.ErrForbidden, http.StatusForbidden},
	{services.ErrNotFound, http.StatusNotFound},
	{services.ErrConflict, http.StatusConflict},
	{services.ErrValidation, http.StatusBadRequest},
}

// New builds the body for status with the given message
func New(status int, message string) Body {
	return Body{Status: status, Error: http.StatusText(status), Message: message}
}

// Respond writes the error body without aborting the handler chain
func Respond(c *gin.Context, status int, message string) {
	c.JSON(status, New(status, message))
}

// Abort writes the error body and stops the remaining handlers
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, New(status, message))
}

// FromService maps err onto a status code and aborts with the error body.
func FromService(c *gin.Context, err error) {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			Abort(c, s.status, message(err, s.err))
			return
		}
	}
	Internal(c, err)
}

// Internal logs and reports err and responds with a generic 500
func Internal(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	slog.ErrorContext(c.Request.Context(), "request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"request_id", requestID,
		"error", err,
	)
	telemetry.CaptureError(err, map[string]string{
		"route":      c.FullPath(),
		"request_id": requestID,
	})
	Abort(c, http.StatusInternalServerError, internalMessage)
}

// message strips the sentinel prefix from a wrapped error, so
// "not found: Configuration not found: X" reads "Configuration not found: X".
func message(err, sentinel error) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return msg
	}
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
