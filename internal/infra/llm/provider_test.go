package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNewProviderUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{Provider: "fireworks"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	var unknownErr *UnknownProviderError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownProviderError, got %T", err)
	}
	if unknownErr.Provider != "fireworks" {
		t.Errorf("Provider = %q", unknownErr.Provider)
	}
}

// Upstream failures are terminal for the run; a 5xx must surface on the
// first attempt without any retry.
func TestAnthropicProviderFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(Config{APIURL: srv.URL, Model: "claude-test"})
	_, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestEmbeddingProviderFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewEmbeddingClient(Config{Provider: "openai", Model: "text-embedding-3-small", APIURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Embed(context.Background(), []string{"text"}); err == nil {
		t.Fatal("expected error on 429")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}
