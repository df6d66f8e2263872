// Package main is a smoke-test utility for a running server. It checks
// /health and, when CFV_SMOKE_API_KEY is set, validates the key and reads the
// configurations of CFV_SMOKE_ENVIRONMENT through the public gateway. It exits
// non-zero on the first unexpected status so it can run as a post-deployment check.
package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/configvault/configvault/internal/auth"
)

func main() {
	base := os.Getenv("CFV_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	check(client, base+"/health", "")

	key := os.Getenv("CFV_SMOKE_API_KEY")
	if key == "" {
		return
	}
	env := os.Getenv("CFV_SMOKE_ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	check(client, base+"/api/public/validate", key)
	check(client, base+"/api/public/configs?environment="+url.QueryEscape(env), key)
}

func check(client *http.Client, target, apiKey string) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if apiKey != "" {
		req.Header.Set(auth.APIKeyHeader, apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("GET %s\nStatus: %d\nResponse:\n%s\n\n", target, resp.StatusCode, string(body))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
