package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sibylhq/sibyl/internal/infra/llm"
)

const (
	// similarityThreshold filters out weak matches; only chunks strictly
	// above it are returned.
	similarityThreshold = 0.5
	// maxMatches caps how many chunks a query returns.
	maxMatches = 4
	// embedBatchSize bounds how many chunks go into one embedding call.
	embedBatchSize = 32
	// maxConcurrentBatches bounds parallel embedding calls during indexing.
	maxConcurrentBatches = 4
)

// Match is a retrieved chunk with its similarity to the query.
type Match struct {
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// Service indexes text into embeddings and answers similarity queries.
type Service struct {
	store    *Store
	embedder llm.EmbeddingClient
}

func NewService(store *Store, embedder llm.EmbeddingClient) *Service {
	return &Service{store: store, embedder: embedder}
}

// Index splits text into sentence chunks, embeds them in parallel batches,
// and stores the vectors. Returns the number of chunks indexed.
func (s *Service) Index(ctx context.Context, workspaceID, assistantID, text string) (int, error) {
	chunks := SplitSentences(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	batches := batchChunks(chunks, embedBatchSize)
	vectors := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for i, batch := range batches {
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gctx, batch)
			if err != nil {
				return fmt.Errorf("embed batch %d: %w", i, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed batch %d: got %d vectors for %d inputs", i, len(vecs), len(batch))
			}
			vectors[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	indexed := 0
	for i, batch := range batches {
		for j, content := range batch {
			if err := s.store.Insert(ctx, Record{
				WorkspaceID: workspaceID,
				AssistantID: assistantID,
				Content:     content,
				Embedding:   vectors[i][j],
			}); err != nil {
				return indexed, err
			}
			indexed++
		}
	}
	return indexed, nil
}

// Query embeds the question and returns up to maxMatches chunks whose cosine
// similarity is strictly above similarityThreshold, best first. A non-empty
// assistantID restricts candidates to that assistant's records plus the
// workspace-wide ones; empty means the whole workspace.
func (s *Service) Query(ctx context.Context, workspaceID, assistantID, query string) ([]Match, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty response")
	}
	queryVec := vecs[0]

	var records []Record
	if assistantID == "" {
		records, err = s.store.AllByWorkspace(ctx, workspaceID)
	} else {
		records, err = s.store.ByAssistant(ctx, workspaceID, assistantID)
	}
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rec := range records {
		sim := cosineSimilarity(queryVec, rec.Embedding)
		if sim > similarityThreshold {
			matches = append(matches, Match{Content: rec.Content, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return matches, nil
}

// SplitSentences breaks text on sentence terminators, trimming whitespace and
// dropping empties. Text without terminators yields one chunk.
func SplitSentences(text string) []string {
	var chunks []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if chunk := strings.TrimSpace(current.String()); chunk != "" {
				chunks = append(chunks, chunk)
			}
			current.Reset()
		}
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func batchChunks(chunks []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}
