package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/infra/eventbus"
)

// TopicIngestRequested is published by the knowledge ingest endpoint; the
// Indexer consumes it so embedding runs off the request path.
const TopicIngestRequested = "knowledge.ingest_requested"

// IngestRequest is the event payload for TopicIngestRequested.
type IngestRequest struct {
	WorkspaceID string
	AssistantID string
	Text        string
}

// Indexer consumes ingest events from the bus and indexes their text.
type Indexer struct {
	service *Service
	logger  *zap.Logger
}

func NewIndexer(service *Service, logger *zap.Logger) *Indexer {
	return &Indexer{service: service, logger: logger}
}

// Start subscribes to TopicIngestRequested and indexes each event's text.
// Runs in the calling goroutine; launch with: go idx.Start(ctx, bus).
// Stops when ctx is cancelled. Failures are logged and the loop keeps
// running.
func (idx *Indexer) Start(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(TopicIngestRequested)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			req, ok := evt.Payload.(IngestRequest)
			if !ok {
				continue
			}
			chunks, err := idx.service.Index(ctx, req.WorkspaceID, req.AssistantID, req.Text)
			if err != nil {
				idx.logger.Error("knowledge indexing failed",
					zap.String("workspace_id", req.WorkspaceID),
					zap.String("assistant_id", req.AssistantID),
					zap.Error(err))
				continue
			}
			idx.logger.Info("knowledge indexed",
				zap.String("workspace_id", req.WorkspaceID),
				zap.String("assistant_id", req.AssistantID),
				zap.Int("chunks", chunks))
		}
	}
}
