// Package retrieval indexes workspace knowledge as embeddings and answers
// similarity queries over them.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sibylhq/sibyl/pkg/uuid"
)

// Record is one stored chunk with its embedding vector.
type Record struct {
	ID          string
	WorkspaceID string
	AssistantID string
	Content     string
	Embedding   []float32
}

// Store persists embedding records. Vectors are serialised as JSON TEXT;
// similarity is computed in memory at query time.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores a chunk with its vector.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	embJSON, err := encodeEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("insert embedding: encode: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewV7().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_record (id, workspace_id, assistant_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.WorkspaceID, rec.AssistantID, rec.Content, embJSON, now)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// AllByWorkspace returns every record in the workspace with decoded vectors.
// Malformed vectors are skipped rather than failing the whole query.
func (s *Store) AllByWorkspace(ctx context.Context, workspaceID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, assistant_id, content, embedding
		FROM embedding_record
		WHERE workspace_id = ?
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByAssistant returns the assistant's records plus the workspace-wide ones
// (stored with an empty assistant_id).
func (s *Store) ByAssistant(ctx context.Context, workspaceID, assistantID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, assistant_id, content, embedding
		FROM embedding_record
		WHERE workspace_id = ? AND (assistant_id = ? OR assistant_id = '')
	`, workspaceID, assistantID)
	if err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var embJSON string
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.AssistantID, &rec.Content, &embJSON); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, decodeErr := decodeEmbedding(embJSON)
		if decodeErr != nil {
			continue // skip malformed vectors
		}
		rec.Embedding = vec
		records = append(records, rec)
	}
	return records, rows.Err()
}

// encodeEmbedding serialises a float32 slice to JSON TEXT for storage.
func encodeEmbedding(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEmbedding deserialises a JSON TEXT vector back to []float32.
func decodeEmbedding(jsonStr string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(jsonStr), &vec); err != nil {
		return nil, fmt.Errorf("decodeEmbedding: %w", err)
	}
	return vec, nil
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
