// Package main is a diagnostic tool for testing database connectivity and
// inspecting live tenant data. It connects with the server's configuration,
// prints row counts per table and the environments in use per project, and
// exits non-zero on any failure so it can gate deployments in CI/CD pipelines.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/db"
)

var tables = []string{"users", "projects", "api_keys", "configurations", "audit_logs"}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	fmt.Println("\n=== TABLES ===")
	for _, table := range tables {
		var n int
		// #nosec G201 -- table names come from the fixed list above
		if err := database.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			log.Fatalf("Count %s failed: %v", table, err)
		}
		fmt.Printf("%-15s %d\n", table, n)
	}

	fmt.Println("\n=== PROJECT ENVIRONMENTS ===")
	rows, err := database.Query(`
		SELECT p.name, c.environment, COUNT(*)
		FROM configurations c JOIN projects p ON p.id = c.project_id
		GROUP BY p.name, c.environment
		ORDER BY p.name, c.environment`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var project, environment string
		var n int
		if err := rows.Scan(&project, &environment, &n); err != nil {
			log.Printf("Warning: failed to scan row: %v", err)
			continue
		}
		fmt.Printf("Project: %s  Environment: %s  Configurations: %d\n", project, environment, n)
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	if count == 0 {
		fmt.Println("No project configurations found!")
	}
}
