package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicProviderStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected api key header")
		}
		if r.Header.Get("Anthropic-Version") != "2023-06-01" {
			t.Errorf("expected version header")
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "be helpful" {
			t.Errorf("system = %q, want system message lifted out", req.System)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"text\":\" there\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewAnthropicProvider(Config{
		APIURL: server.URL,
		APIKey: "test-key",
		Model:  "claude-test",
	})

	stream, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		content.WriteString(chunk.Content)
	}

	if content.String() != "Hi there" {
		t.Fatalf("unexpected content %q", content.String())
	}
}

func TestAnthropicProviderToolUseAccumulation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tu_1\",\"name\":\"get_weather\",\"input\":{}}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"partial_json\":\"{\\\"city\\\":\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"partial_json\":\"\\\"Lima\\\"}\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewAnthropicProvider(Config{APIURL: server.URL, Model: "claude-test"})
	stream, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "weather in lima"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer stream.Close()

	var last ToolCall
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		for _, call := range chunk.ToolCalls {
			last = call
		}
	}

	if last.ID != "tu_1" || last.Name != "get_weather" {
		t.Fatalf("unexpected tool call %+v", last)
	}
	if last.Arguments != `{"city":"Lima"}` {
		t.Fatalf("arguments not accumulated: %q", last.Arguments)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(last.Arguments), &decoded); err != nil {
		t.Fatalf("accumulated arguments are not valid JSON: %v", err)
	}
	if decoded["city"] != "Lima" {
		t.Errorf("decoded arguments = %v", decoded)
	}
}

func TestAnthropicMessagesFrom_ToolResult(t *testing.T) {
	t.Parallel()

	messages, system := anthropicMessagesFrom([]Message{
		{Role: "system", Content: "sys"},
		{Role: "assistant", Content: "calling tool"},
		{Role: "tool", Content: `{"temp":21}`, ToolCallID: "tu_9"},
	})

	if system != "sys" {
		t.Errorf("system = %q", system)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	result := messages[1]
	if result.Role != "user" {
		t.Errorf("tool result role = %q, want user", result.Role)
	}
	if result.Content[0].Type != "tool_result" || result.Content[0].ToolUseID != "tu_9" {
		t.Errorf("unexpected tool result block %+v", result.Content[0])
	}
}
