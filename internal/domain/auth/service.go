// Package auth implements Register and Login: workspace creation, password
// hashing, and JWT issuance.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	pkgauth "github.com/sibylhq/sibyl/pkg/auth"
	"github.com/sibylhq/sibyl/pkg/uuid"
)

// ErrInvalidCredentials is returned by Login when email or password is incorrect.
// A single error for both cases avoids leaking whether an email exists.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailAlreadyExists is returned by Register when the email is already taken.
var ErrEmailAlreadyExists = errors.New("email already registered")

// RegisterInput holds the data needed to create a new workspace and user.
type RegisterInput struct {
	Email         string
	Password      string
	WorkspaceName string
}

// LoginInput holds the credentials for authentication.
type LoginInput struct {
	Email    string
	Password string
}

// Result is returned after successful Register or Login.
// Token is a signed JWT containing UserID and WorkspaceID claims.
type Result struct {
	Token       string
	UserID      string
	WorkspaceID string
}

// Service defines the authentication business operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*Result, error)
	Login(ctx context.Context, input LoginInput) (*Result, error)
}

type service struct {
	db        *sql.DB
	logger    *zap.Logger
	freeQuota int
}

// NewService creates an auth Service backed by the provided DB. New
// workspaces start on the free plan with freeQuota assistants.
func NewService(db *sql.DB, logger *zap.Logger, freeQuota int) Service {
	return &service{db: db, logger: logger, freeQuota: freeQuota}
}

// Register creates a new workspace, user, and free subscription atomically,
// then returns a JWT. Password is hashed with bcrypt before storage.
func (s *service) Register(ctx context.Context, input RegisterInput) (*Result, error) {
	hash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	workspaceID := uuid.NewV7().String()
	userID := uuid.NewV7().String()

	if err := s.insertWorkspaceAndUser(ctx, insertParams{
		workspaceID:   workspaceID,
		userID:        userID,
		workspaceName: input.WorkspaceName,
		email:         input.Email,
		passwordHash:  hash,
	}); err != nil {
		return nil, err
	}

	token, err := pkgauth.GenerateJWT(userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	s.logger.Info("workspace registered",
		zap.String("workspace_id", workspaceID),
		zap.String("user_id", userID))

	return &Result{Token: token, UserID: userID, WorkspaceID: workspaceID}, nil
}

type insertParams struct {
	workspaceID   string
	userID        string
	workspaceName string
	email         string
	passwordHash  string
}

func (s *service) insertWorkspaceAndUser(ctx context.Context, p insertParams) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace (id, name, created_at)
		VALUES (?, ?, ?)
	`, p.workspaceID, p.workspaceName, now)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_account (id, workspace_id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.userID, p.workspaceID, p.email, p.passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscription (workspace_id, plan, assistant_limit, updated_at)
		VALUES (?, 'free', ?, ?)
	`, p.workspaceID, s.freeQuota, now)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return tx.Commit()
}

// Login verifies credentials and returns a JWT. Any failure (email not found
// or wrong password) returns ErrInvalidCredentials so the response does not
// reveal which part was wrong.
func (s *service) Login(ctx context.Context, input LoginInput) (*Result, error) {
	var userID, workspaceID string
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, password_hash
		FROM user_account
		WHERE email = ?
		LIMIT 1
	`, input.Email).Scan(&userID, &workspaceID, &passwordHash)

	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !passwordHash.Valid || passwordHash.String == "" {
		return nil, ErrInvalidCredentials
	}

	if !pkgauth.VerifyPassword(passwordHash.String, input.Password) {
		return nil, ErrInvalidCredentials
	}

	token, err := pkgauth.GenerateJWT(userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	s.logger.Info("user logged in",
		zap.String("workspace_id", workspaceID),
		zap.String("user_id", userID))

	return &Result{
		Token:       token,
		UserID:      userID,
		WorkspaceID: workspaceID,
	}, nil
}

// isUniqueViolation checks if an SQLite error is a UNIQUE constraint violation.
// SQLite surfaces this as an error message containing "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
