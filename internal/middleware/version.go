package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/configvault/configvault/internal/api/apierror"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-version"
)

// ClientVersionHeader is announced by the SDK clients of the public API
const ClientVersionHeader = "X-Client-Version"

// MinClientVersion rejects clients announcing a version older than minimum with
// 426 Upgrade Required. Requests without the header, or with an unparsable one,
// pass through. An empty minimum disables the check.
func MinClientVersion(minimum string) (gin.HandlerFunc, error) {
	if minimum == "" {
		return func(c *gin.Context) { c.Next() }, nil
	}
	floor, err := version.NewVersion(minimum)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum client version %q: %w", minimum, err)
	}

	return func(c *gin.Context) {
		announced := c.GetHeader(ClientVersionHeader)
		if announced == "" {
			c.Next()
			return
		}
		v, err := version.NewVersion(announced)
		if err != nil {
			slog.Debug("ignoring unparsable client version", "version", announced)
			c.Next()
			return
		}
		if v.LessThan(floor) {
			apierror.Abort(c, http.StatusUpgradeRequired,
				fmt.Sprintf("Client version %s is no longer supported; upgrade to %s or later", v, floor))
			return
		}
		c.Next()
	}, nil
}
