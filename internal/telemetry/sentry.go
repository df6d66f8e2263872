package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryEnabled is set once InitSentry succeeds; CaptureError is a no-op otherwise.
var sentryEnabled bool

// InitSentry configures the Sentry client. An empty DSN leaves reporting disabled.
func InitSentry(dsn, environment, release string, tracesSampleRate float64) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		EnableTracing:    tracesSampleRate > 0,
		TracesSampleRate: tracesSampleRate,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	sentryEnabled = true
	slog.Info("sentry error reporting enabled", "environment", environment)
	return nil
}

// CaptureError reports err to Sentry with the given tags when reporting is enabled.
func CaptureError(err error, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// FlushSentry waits up to timeout for buffered events to be delivered.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}
