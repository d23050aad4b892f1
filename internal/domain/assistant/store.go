// Package assistant manages workspace-scoped assistant configurations and
// resolves them into ready-to-call LLM clients.
package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/pkg/uuid"
)

// ErrAssistantNotFound is returned when the assistant does not exist in the
// caller's workspace. Lookups never cross workspace boundaries.
var ErrAssistantNotFound = errors.New("assistant not found")

const (
	// DefaultTemperature is used when a new assistant omits temperature.
	DefaultTemperature float32 = 0.7
	// DefaultMaxTokens is used when a new assistant omits the output cap.
	DefaultMaxTokens = 2048
)

// Config is a stored assistant configuration.
type Config struct {
	ID           string  `json:"id"`
	WorkspaceID  string  `json:"workspace_id"`
	Name         string  `json:"name"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	ToolsEnabled bool    `json:"tools_enabled"`
	APIKey       string  `json:"-"`
	APIURL       string  `json:"-"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Store persists assistant configurations in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new assistant and returns it with ID and timestamps set.
func (s *Store) Create(ctx context.Context, cfg Config) (*Config, error) {
	cfg.ID = uuid.NewV7().String()
	now := time.Now().UTC().Format(time.RFC3339)
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assistant (id, workspace_id, name, provider, model, system_prompt,
			temperature, max_tokens, tools_enabled, api_key, api_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ID, cfg.WorkspaceID, cfg.Name, cfg.Provider, cfg.Model, cfg.SystemPrompt,
		cfg.Temperature, cfg.MaxTokens, boolToInt(cfg.ToolsEnabled), cfg.APIKey, cfg.APIURL,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create assistant: %w", err)
	}
	return &cfg, nil
}

// Get returns the assistant scoped to workspaceID.
func (s *Store) Get(ctx context.Context, workspaceID, id string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, provider, model, system_prompt,
			temperature, max_tokens, tools_enabled, api_key, api_url, created_at, updated_at
		FROM assistant
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	return scanConfig(row)
}

// List returns all assistants in the workspace, newest first.
func (s *Store) List(ctx context.Context, workspaceID string) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, provider, model, system_prompt,
			temperature, max_tokens, tools_enabled, api_key, api_url, created_at, updated_at
		FROM assistant
		WHERE workspace_id = ?
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// Count returns the number of assistants in the workspace.
func (s *Store) Count(ctx context.Context, workspaceID string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM assistant WHERE workspace_id = ?", workspaceID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count assistants: %w", err)
	}
	return count, nil
}

// Update modifies an existing assistant's mutable fields.
func (s *Store) Update(ctx context.Context, cfg Config) (*Config, error) {
	cfg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE assistant
		SET name = ?, provider = ?, model = ?, system_prompt = ?,
			temperature = ?, max_tokens = ?, tools_enabled = ?, api_key = ?, api_url = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?
	`, cfg.Name, cfg.Provider, cfg.Model, cfg.SystemPrompt,
		cfg.Temperature, cfg.MaxTokens, boolToInt(cfg.ToolsEnabled), cfg.APIKey, cfg.APIURL,
		cfg.UpdatedAt, cfg.ID, cfg.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("update assistant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update assistant: rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrAssistantNotFound
	}
	return s.Get(ctx, cfg.WorkspaceID, cfg.ID)
}

// Delete removes an assistant from the workspace.
func (s *Store) Delete(ctx context.Context, workspaceID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM assistant WHERE id = ? AND workspace_id = ?", id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assistant: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAssistantNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*Config, error) {
	var cfg Config
	var toolsEnabled int
	err := row.Scan(&cfg.ID, &cfg.WorkspaceID, &cfg.Name, &cfg.Provider, &cfg.Model,
		&cfg.SystemPrompt, &cfg.Temperature, &cfg.MaxTokens, &toolsEnabled,
		&cfg.APIKey, &cfg.APIURL, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssistantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assistant: %w", err)
	}
	cfg.ToolsEnabled = toolsEnabled != 0
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
