// Package auth provides the authentication primitives of the service: project API key
// generation, password hashing, and JWT creation/verification.
// Interactive users authenticate with a JWT issued by the login endpoint; external
// clients read configuration with a project API key sent in the X-API-Key header.
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/configvault/configvault/internal/db/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every project API key
	APIKeyPrefix = models.APIKeyPrefix

	// APIKeyLength is the length of the random part of the key in bytes (32 hex characters)
	APIKeyLength = 16

	// APIKeyHeader carries the key on public requests
	APIKeyHeader = "X-API-Key"

	// BcryptCost is the cost factor for password hashing
	BcryptCost = 12
)

// GenerateProjectKey creates a new project API key: "pk_" followed by 32 lowercase hex characters
func GenerateProjectKey() (string, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// LooksLikeProjectKey reports whether key has the shape of a project API key.
// It lets the gateway reject garbage without a database round trip.
func LooksLikeProjectKey(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) != len(APIKeyPrefix)+2*APIKeyLength {
		return false
	}
	_, err := hex.DecodeString(key[len(APIKeyPrefix):])
	return err == nil
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash
func CheckPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}
