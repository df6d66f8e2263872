package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/joho/godotenv"
)

// plainValue matches values that can be written unquoted in a dotenv document
var plainValue = regexp.MustCompile(`^[A-Za-z0-9_./:@+-]*$`)

// formatDotenv renders entries as a dotenv document. Values that are not plain
// tokens are quoted and escaped, so multi-line values survive a round trip.
func formatDotenv(environment string, generated time.Time, entries []*models.Configuration) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Environment: %s\n", environment)
	fmt.Fprintf(&b, "# Generated on: %s\n\n", generated.UTC().Format(time.RFC3339))

	for _, cfg := range entries {
		if cfg.Description != "" {
			b.WriteString("# ")
			b.WriteString(strings.Join(strings.Fields(cfg.Description), " "))
			b.WriteString("\n")
		}
		line, err := dotenvLine(cfg.Key, cfg.Value)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func dotenvLine(key, value string) (string, error) {
	if plainValue.MatchString(value) {
		return key + "=" + value, nil
	}
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return line, nil
}

// parseDotenv reads a dotenv document into key/value pairs
func parseDotenv(doc string) (map[string]string, error) {
	values, err := godotenv.Unmarshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid dotenv document: %v", ErrValidation, err)
	}
	return values, nil
}
