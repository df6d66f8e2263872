// Package main is the entry point for the ConfigVault server binary.
// It dispatches three subcommands (serve, migrate and version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup so freshly deployed
// containers never need a separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is only served on the dedicated profiling port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/configvault/configvault/internal/api"
	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/db"
	"github.com/configvault/configvault/internal/db/repositories"
	"github.com/configvault/configvault/internal/safego"
	"github.com/configvault/configvault/internal/services"
	"github.com/configvault/configvault/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Import storage backends to register them
	_ "github.com/configvault/configvault/internal/storage/azure"
	_ "github.com/configvault/configvault/internal/storage/gcs"
	_ "github.com/configvault/configvault/internal/storage/local"
	_ "github.com/configvault/configvault/internal/storage/s3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	if command == "version" {
		fmt.Printf("ConfigVault v%s\n", api.Version)
		return nil
	}

	// .env values feed viper's environment layer, so they must be loaded first
	if err := config.LoadDotenv(os.Getenv("CFV_DOTENV_FILE")); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, args[1])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

// sideServer serves an internal-only handler (metrics, pprof) on its own port
func sideServer(addr string, handler http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

func listen(name string, srv *http.Server) {
	slog.Info("starting "+name+" server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error(name+" server error", "error", err)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := telemetry.InitSentry(cfg.Telemetry.Sentry.DSN, cfg.Telemetry.Sentry.Environment, api.Version, cfg.Telemetry.Sentry.TracesSampleRate); err != nil {
		slog.Warn("sentry disabled", "error", err)
	}
	defer telemetry.FlushSentry(2 * time.Second)

	// Fails in production when CFV_JWT_SECRET is not set
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "sslmode", cfg.Database.SSLMode)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrapUser(ctx, cfg, database); err != nil {
		return err
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	var background safego.Group
	background.Go("db-stats", func() { telemetry.StartDBStatsCollector(ctx, database) })
	if cfg.ConfigFile != "" {
		background.Go("config-watch", func() {
			err := config.Watch(ctx, cfg.ConfigFile, func(next *config.Config) {
				telemetry.SetLogLevel(next.Logging.Level)
				slog.Info("configuration reloaded", "log_level", next.Logging.Level)
			})
			if err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		})
	}

	var sideServers []*http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := sideServer(fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), mux, 10*time.Second)
		sideServers = append(sideServers, srv)
		safego.Go("metrics-server", func() { listen("metrics", srv) })
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time
		srv := sideServer(fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second) // #nosec G108
		sideServers = append(sideServers, srv)
		safego.Go("pprof-server", func() { listen("pprof", srv) })
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled,
			"rate_limiting", cfg.Security.RateLimiting.Enabled, "export_archive", cfg.Storage.ExportArchive.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serveErr:
		cancel()
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	for _, srv := range sideServers {
		_ = srv.Shutdown(shutdownCtx)
	}

	// Stop background jobs and rate limiter goroutines
	cancel()
	bgServices.Shutdown()
	if err := background.Wait(shutdownCtx); err != nil {
		slog.Warn("background goroutines did not stop in time", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// bootstrapUser seeds the first account when the users table is empty
func bootstrapUser(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	accounts := services.NewAccountService(
		repositories.NewUserRepository(database),
		services.NewAuditService(repositories.NewAuditRepository(database), nil),
		cfg.Auth.JWTExpiry,
	)
	created, err := accounts.Bootstrap(ctx, cfg.Auth.Bootstrap)
	if err != nil {
		return fmt.Errorf("failed to bootstrap user: %w", err)
	}
	if created {
		slog.Info("bootstrap user created", "username", cfg.Auth.Bootstrap.Username)
	}
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}
