// Package main is a development utility that seeds a local database with a usable
// user, project and project API key. It prints the raw password and key alongside
// ready-to-run SQL so developers can exercise the public read gateway without
// going through the login and project creation flow. Do not use generated
// credentials in production.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/configvault/configvault/internal/auth"
	"github.com/google/uuid"
)

func main() {
	username := "dev"
	if len(os.Args) > 1 {
		username = os.Args[1]
	}

	password, err := auth.GenerateProjectKey()
	if err != nil {
		log.Fatal(err)
	}
	password = password[len(auth.APIKeyPrefix):]

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatal(err)
	}

	key, err := auth.GenerateProjectKey()
	if err != nil {
		log.Fatal(err)
	}

	userID, projectID, keyID := uuid.New(), uuid.New(), uuid.New()

	fmt.Println("==========================================================")
	fmt.Println("Development credentials")
	fmt.Println("==========================================================")
	fmt.Printf("\nUsername: %s\n", username)
	fmt.Printf("Password: %s\n", password)
	fmt.Printf("API Key:  %s\n", key)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO users (id, username, email, password_hash)
VALUES ('%[1]s', '%[2]s', '%[2]s@dev.local', '%[3]s');

INSERT INTO projects (id, name, description, user_id)
VALUES ('%[4]s', 'Development', 'Seeded for local testing', '%[1]s');

INSERT INTO api_keys (id, name, key, description, user_id, project_id)
VALUES ('%[5]s', 'Development API Key', '%[6]s', 'Auto-generated API key for project: Development', '%[1]s', '%[4]s');
`, userID, username, hash, projectID, keyID, key)
	fmt.Println("\n==========================================================")
	fmt.Printf("curl -H '%s: %s' 'http://localhost:8080/api/public/configs?environment=dev'\n", auth.APIKeyHeader, key)
	fmt.Println("==========================================================")
}
