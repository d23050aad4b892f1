package retrieval

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/infra/eventbus"
)

func TestIndexer_ConsumesIngestEvents(t *testing.T) {
	t.Parallel()

	store := NewStore(newTestDB(t))
	svc := NewService(store, &stubEmbedder{fallback: []float32{1, 0}})
	idx := NewIndexer(svc, zap.NewNop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Start(ctx, bus)

	// Give the subscriber a beat to register before publishing.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(TopicIngestRequested, IngestRequest{
		WorkspaceID: "ws-1",
		AssistantID: "a-1",
		Text:        "Cats purr. Dogs bark.",
	})

	deadline := time.After(2 * time.Second)
	for {
		records, err := store.AllByWorkspace(context.Background(), "ws-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(records) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("indexer stored %d records, want 2", len(records))
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestIndexer_IgnoresForeignPayloads(t *testing.T) {
	t.Parallel()

	store := NewStore(newTestDB(t))
	svc := NewService(store, &stubEmbedder{fallback: []float32{1, 0}})
	idx := NewIndexer(svc, zap.NewNop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Start(ctx, bus)

	time.Sleep(10 * time.Millisecond)
	bus.Publish(TopicIngestRequested, "not an ingest request")
	time.Sleep(50 * time.Millisecond)

	records, err := store.AllByWorkspace(context.Background(), "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("foreign payload produced %d records", len(records))
	}
}
