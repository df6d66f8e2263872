// Package api wires together all HTTP routes for the ConfigVault backend.
//
// Route grouping:
//   - /api/auth/login is unauthenticated and sits behind a strict per-IP limiter.
//   - /api/config, /api/projects and /api/audit-logs require a bearer JWT and only ever
//     expose the caller's own data.
//   - /api/public authenticates with a project API key in X-API-Key. It is rate limited
//     through Redis when security.rate_limiting.redis_address is set so that several
//     replicas share one budget, and in process otherwise.
//
// Metrics and pprof are served on their own ports by cmd/server, never on this router.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/configvault/configvault/internal/api/auditlogs"
	"github.com/configvault/configvault/internal/api/configs"
	"github.com/configvault/configvault/internal/api/projects"
	"github.com/configvault/configvault/internal/api/public"
	"github.com/configvault/configvault/internal/api/session"
	"github.com/configvault/configvault/internal/audit"
	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/db"
	"github.com/configvault/configvault/internal/db/repositories"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/configvault/configvault/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Version is reported by /version and the version subcommand
var Version = "0.1.0"

// ErrNoDatabase is returned by NewRouter when it is handed a nil pool
var ErrNoDatabase = errors.New("database connection is required")

func passThrough(c *gin.Context) { c.Next() }

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	redis        *redis.Client
	shipper      audit.Shipper
	audit        *services.AuditService
}

// shipDrainTimeout bounds how long Shutdown waits for in-flight audit shipments
const shipDrainTimeout = 10 * time.Second

// Shutdown stops all background goroutines and releases external connections. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if bg.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shipDrainTimeout)
		if err := bg.audit.Drain(ctx); err != nil {
			slog.Warn("audit shipments still in flight at shutdown", "error", err)
		}
		cancel()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// newShipper builds the configured audit shippers. It returns nil when none are enabled.
func newShipper(cfg *config.Config) (audit.Shipper, error) {
	ms, err := audit.NewMultiShipper(audit.ConfigsFrom(cfg.Audit.Shippers))
	if err != nil {
		return nil, err
	}
	if ms.Len() == 0 {
		return nil, nil
	}
	slog.Info("audit shippers enabled", "count", ms.Len())
	return ms, nil
}

// newArchiver returns the export archiver and its backend, or nils when archiving is off
func newArchiver(cfg *config.Config) (services.Archiver, storage.Storage, error) {
	if !cfg.Storage.ExportArchive.Enabled {
		return nil, nil, nil
	}
	backend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("export archiving enabled", "backend", cfg.Storage.DefaultBackend, "prefix", cfg.Storage.ExportArchive.Prefix)
	return services.NewStorageArchiver(backend, cfg.Storage.ExportArchive.Prefix), backend, nil
}

// newRedis connects to the shared rate-limit store. An unreachable server is
// reported and nil returned so the caller falls back to in-process limiting.
func newRedis(cfg config.RateLimitingConfig) *redis.Client {
	if cfg.RedisAddress == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, falling back to in-memory rate limiting",
			"address", cfg.RedisAddress, "error", err)
		_ = client.Close()
		return nil
	}
	slog.Info("redis rate limiting enabled", "address", cfg.RedisAddress)
	return client
}

func rateLimitConfig(cfg config.RateLimitingConfig) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rl.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		rl.BurstSize = cfg.Burst
	}
	return rl
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, sqlDB *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	if sqlDB == nil {
		return nil, nil, ErrNoDatabase
	}
	bg := &BackgroundServices{}

	// Repositories
	txDB := db.NewTxDB(sqlDB)
	userRepo := repositories.NewUserRepository(sqlDB)
	apiKeyRepo := repositories.NewAPIKeyRepository(sqlDB)
	auditRepo := repositories.NewAuditRepository(sqlDB)
	projectRepo := repositories.NewProjectRepository(txDB)
	configRepo := repositories.NewConfigurationRepository(txDB)

	shipper, err := newShipper(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	bg.shipper = shipper

	archiver, archiveBackend, err := newArchiver(cfg)
	if err != nil {
		bg.Shutdown()
		return nil, nil, err
	}

	// Services
	auditService := services.NewAuditService(auditRepo, shipper)
	bg.audit = auditService
	guard := services.NewGuard(projectRepo, configRepo)
	accounts := services.NewAccountService(userRepo, auditService, cfg.Auth.JWTExpiry)
	configService := services.NewConfigService(configRepo, guard, auditService, archiver)
	projectService := services.NewProjectService(projectRepo, apiKeyRepo, configRepo, guard, auditService)
	gateway := services.NewGateway(apiKeyRepo, projectRepo, configRepo)

	versionGate, err := middleware.MinClientVersion(cfg.Security.PublicAPI.MinClientVersion)
	if err != nil {
		bg.Shutdown()
		return nil, nil, fmt.Errorf("invalid security.public_api.min_client_version: %w", err)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.RequestMetadataMiddleware())

	router.GET("/health", healthCheckHandler(sqlDB))
	router.GET("/ready", readinessHandler(sqlDB, archiveBackend))
	router.GET("/version", versionHandler())

	// A disabled limiter leaves the chain untouched.
	var apiLimit, loginLimit, publicLimit gin.HandlerFunc = passThrough, passThrough, passThrough
	if cfg.Security.RateLimiting.Enabled {
		general := middleware.NewRateLimiter(rateLimitConfig(cfg.Security.RateLimiting))
		login := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, general, login)
		apiLimit = middleware.RateLimitMiddleware(general)
		loginLimit = middleware.RateLimitMiddleware(login)
		publicLimit = apiLimit

		if client := newRedis(cfg.Security.RateLimiting); client != nil {
			bg.redis = client
			publicLimit = middleware.RateLimitMiddleware(
				middleware.NewRedisRateLimiter(client, "configvault:public", rateLimitConfig(cfg.Security.RateLimiting)))
		}
	}
	authRequired := middleware.AuthMiddleware(accounts)

	apiGroup := router.Group("/api")

	sessionHandlers := session.NewHandlers(accounts)
	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/login", loginLimit, sessionHandlers.Login())
	authGroup.GET("/me", authRequired, sessionHandlers.Me())

	configs.NewHandlers(configService).Register(apiGroup.Group("/config", apiLimit, authRequired))
	projects.NewHandlers(projectService).Register(apiGroup.Group("/projects", apiLimit, authRequired))
	auditlogs.NewHandlers(auditService).Register(apiGroup.Group("/audit-logs", apiLimit, authRequired))
	public.NewHandlers(gateway).Register(apiGroup.Group("/public", versionGate, publicLimit))

	return router, bg, nil
}

// @Summary      Health check
// @Description  Liveness check. Returns 200 while the database answers pings.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessCheckPath is a known-absent object; Exists exercises credentials and
// connectivity without creating state.
const readinessCheckPath = ".readiness-check"

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when export archiving is enabled, the storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
func readinessHandler(db *sql.DB, backend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if backend != nil {
			if _, err := backend.Exists(c.Request.Context(), readinessCheckPath); err != nil {
				slog.WarnContext(c.Request.Context(), "storage readiness check failed", "error", err)
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
