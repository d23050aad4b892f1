// Package document stores artifacts the assistant produces during a chat,
// such as drafted texts the user can keep editing in later turns.
package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/pkg/uuid"
)

// ErrDocumentNotFound is returned when the document does not exist in the
// caller's workspace.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a stored artifact.
type Document struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	ChatID      string `json:"chat_id,omitempty"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Kind        string `json:"kind"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new document and returns it with ID and timestamps set.
func (s *Store) Create(ctx context.Context, doc Document) (*Document, error) {
	doc.ID = uuid.NewV7().String()
	now := time.Now().UTC().Format(time.RFC3339)
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Kind == "" {
		doc.Kind = "text"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document (id, workspace_id, chat_id, title, content, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.WorkspaceID, doc.ChatID, doc.Title, doc.Content, doc.Kind, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return &doc, nil
}

// Get returns the document scoped to workspaceID.
func (s *Store) Get(ctx context.Context, workspaceID, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, chat_id, title, content, kind, created_at, updated_at
		FROM document
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID).Scan(&doc.ID, &doc.WorkspaceID, &doc.ChatID, &doc.Title,
		&doc.Content, &doc.Kind, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// UpdateContent replaces the document body and bumps updated_at.
func (s *Store) UpdateContent(ctx context.Context, workspaceID, id, content string) (*Document, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE document SET content = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?
	`, content, now, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update document: rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrDocumentNotFound
	}
	return s.Get(ctx, workspaceID, id)
}

// ListByWorkspace returns documents in the workspace, most recently updated first.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, chat_id, title, content, kind, created_at, updated_at
		FROM document
		WHERE workspace_id = ?
		ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.WorkspaceID, &doc.ChatID, &doc.Title,
			&doc.Content, &doc.Kind, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
