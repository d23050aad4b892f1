package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/pkg/uuid"
)

// ErrChatNotFound is returned when the chat does not exist in the caller's
// workspace.
var ErrChatNotFound = errors.New("chat not found")

// Chat is an owning row for a conversation.
type Chat struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	AssistantID string `json:"assistant_id"`
	Title       string `json:"title"`
	CreatedAt   string `json:"created_at"`
}

// Message is one immutable transcript row. Content holds plain text for user
// and assistant rows, or a JSON payload for tool results. ToolCalls carries
// the serialized calls an assistant message issued, empty otherwise.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls string `json:"tool_calls,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Store persists chats and their transcripts.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateChat inserts a new chat row.
func (s *Store) CreateChat(ctx context.Context, c Chat) (*Chat, error) {
	if c.ID == "" {
		c.ID = uuid.NewV7().String()
	}
	c.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat (id, workspace_id, user_id, assistant_id, title, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, c.UserID, c.AssistantID, c.Title, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

// GetChat returns the chat scoped to workspaceID.
func (s *Store) GetChat(ctx context.Context, workspaceID, id string) (*Chat, error) {
	var c Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, assistant_id, title, created_at
		FROM chat
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID).Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.AssistantID, &c.Title, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

// ListChats returns the workspace's chats, newest first.
func (s *Store) ListChats(ctx context.Context, workspaceID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, assistant_id, title, created_at
		FROM chat
		WHERE workspace_id = ?
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.AssistantID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat; its messages cascade.
func (s *Store) DeleteChat(ctx context.Context, workspaceID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM chat WHERE id = ? AND workspace_id = ?", id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// AppendMessage inserts a single transcript row.
func (s *Store) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewV7().String()
	}
	m.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_message (id, chat_id, role, content, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.Role, m.Content, m.ToolCalls, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &m, nil
}

// AppendBatch inserts messages atomically. The orchestrator persists a full
// turn this way so a failed run never leaves a partial assistant transcript.
func (s *Store) AppendBatch(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append batch: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewV7().String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_message (id, chat_id, role, content, tool_calls, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.ChatID, m.Role, m.Content, m.ToolCalls, now); err != nil {
			return fmt.Errorf("append batch: insert: %w", err)
		}
	}
	return tx.Commit()
}

// History returns the chat's messages in insertion order.
func (s *Store) History(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, tool_calls, created_at
		FROM chat_message
		WHERE chat_id = ?
		ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
