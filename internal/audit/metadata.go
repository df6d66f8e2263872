package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// RequestMetadata is the per-request information stamped onto audit entries
type RequestMetadata struct {
	IPAddress string
	UserAgent string
}

type metadataKey struct{}

// WithRequestMetadata returns a copy of ctx carrying md
func WithRequestMetadata(ctx context.Context, md RequestMetadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFromContext returns the request metadata attached to ctx.
// The boolean is false outside a request, e.g. for background jobs.
func MetadataFromContext(ctx context.Context) (RequestMetadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(RequestMetadata)
	return md, ok
}

// ClientIP resolves the originating client address: the first X-Forwarded-For
// entry, then X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// MetadataFromRequest extracts the audit metadata of r
func MetadataFromRequest(r *http.Request) RequestMetadata {
	return RequestMetadata{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
