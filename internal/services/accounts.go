package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/db/repositories"
)

// errBadCredentials is the only message a failed login reveals
var errBadCredentials = fmt.Errorf("%w: invalid username, email or password", ErrUnauthorized)

// LoginResult is an issued session token
type LoginResult struct {
	Token     string
	User      *models.User
	ExpiresAt time.Time
}

// AccountService logs users in and resolves session tokens back to users
type AccountService struct {
	users    UserStore
	audit    *AuditService
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAccountService creates an AccountService. A zero tokenTTL uses auth.DefaultTokenExpiry.
func NewAccountService(users UserStore, audit *AuditService, tokenTTL time.Duration) *AccountService {
	if tokenTTL <= 0 {
		tokenTTL = auth.DefaultTokenExpiry
	}
	return &AccountService{users: users, audit: audit, tokenTTL: tokenTTL, now: time.Now}
}

// Login checks the credentials of the user named by username or email and issues a JWT.
// Every attempt is audited.
func (s *AccountService) Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" || password == "" {
		return nil, fmt.Errorf("%w: usernameOrEmail and password are required", ErrValidation)
	}

	user, err := s.users.GetUserByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		s.audit.RecordFailure(ctx, nil, models.ActionLogin, models.ResourceUser, "User not found: "+usernameOrEmail)
		return nil, errBadCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		s.audit.RecordFailure(ctx, user, models.ActionLogin, models.ResourceUser, "Invalid password")
		return nil, errBadCredentials
	}
	if !user.IsActive {
		s.audit.RecordFailure(ctx, user, models.ActionLogin, models.ResourceUser, "User is inactive")
		return nil, errBadCredentials
	}

	token, err := auth.GenerateJWT(user.ID, user.Username, user.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("failed to update last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	s.audit.Record(ctx, user, Entry{
		Action:       models.ActionLogin,
		ResourceType: models.ResourceUser,
		ResourceID:   user.ID,
		ResourceName: user.Username,
		Description:  "Successful login",
	})
	return &LoginResult{Token: token, User: user, ExpiresAt: now.Add(s.tokenTTL)}, nil
}

// Authenticate resolves a session token to an active user
func (s *AccountService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: user not found or inactive", ErrUnauthorized)
	}
	return user, nil
}

// Bootstrap creates the configured first user when the users table is empty.
// It reports whether a user was created; without a configured password it does nothing.
func (s *AccountService) Bootstrap(ctx context.Context, cfg config.BootstrapConfig) (bool, error) {
	if cfg.Password == "" {
		return false, nil
	}
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return false, err
	}
	user := &models.User{
		Username:     cfg.Username,
		Email:        cfg.Email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// Another replica won the race.
		if errors.Is(err, repositories.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create bootstrap user: %w", err)
	}
	slog.Info("created bootstrap user", "username", user.Username)
	return true, nil
}
