package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/domain/assistant"
	"github.com/sibylhq/sibyl/internal/infra/llm"
	"github.com/sibylhq/sibyl/internal/infra/sqlite"
)

// scriptedProvider returns one scripted stream per Complete call and records
// the messages each call received.
type scriptedProvider struct {
	scripts [][]llm.Chunk
	calls   int
	seen    [][]llm.Message
	err     error
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.seen = append(p.seen, req.Messages)
	script := p.scripts[len(p.scripts)-1]
	if p.calls < len(p.scripts) {
		script = p.scripts[p.calls]
	}
	p.calls++
	return &scriptedStream{chunks: script}, nil
}

type scriptedStream struct {
	chunks []llm.Chunk
	pos    int
}

func (s *scriptedStream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

// recordingEmitter captures the event stream in order.
type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Send(e Event) error {
	r.events = append(r.events, e)
	return nil
}

// stubToolset answers every call with a fixed payload or error.
type stubToolset struct {
	specs   []llm.Tool
	payload json.RawMessage
	err     error
	calls   []string
}

func (s *stubToolset) Specs() []llm.Tool { return s.specs }

func (s *stubToolset) Execute(_ context.Context, name string, _ json.RawMessage, _ RunContext) (json.RawMessage, error) {
	s.calls = append(s.calls, name)
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

func newChatTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewMemoryDB()
	if err != nil {
		t.Fatalf("NewMemoryDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		"INSERT INTO workspace (id, name) VALUES ('ws-1', 'Test')",
		"INSERT INTO user_account (id, workspace_id, email, password_hash) VALUES ('u-1', 'ws-1', 'u@example.com', 'x')",
		"INSERT INTO assistant (id, workspace_id, name, provider, model) VALUES ('a-1', 'ws-1', 'Bot', 'openai', 'gpt-4o-mini')",
		"INSERT INTO chat (id, workspace_id, user_id, assistant_id) VALUES ('chat-1', 'ws-1', 'u-1', 'a-1')",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func resolvedWith(provider llm.Provider, toolsEnabled bool) *assistant.Resolved {
	return &assistant.Resolved{
		Assistant:    &assistant.Config{ID: "a-1", WorkspaceID: "ws-1"},
		Client:       provider,
		SystemPrompt: "be helpful",
		Temperature:  0.7,
		MaxTokens:    512,
		ToolsEnabled: toolsEnabled,
	}
}

func runInput() RunInput {
	return RunInput{
		WorkspaceID: "ws-1",
		UserID:      "u-1",
		ChatID:      "chat-1",
		Messages:    []llm.Message{{Role: "user", Content: "hello"}},
	}
}

func TestRun_NoUserMessage(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	o := NewOrchestrator(store, nil, zap.NewNop())

	in := runInput()
	in.Messages = []llm.Message{{Role: "assistant", Content: "hi"}}

	_, err := o.Run(context.Background(), resolvedWith(&scriptedProvider{}, false), in, &recordingEmitter{})
	if !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("err = %v, want ErrNoUserMessage", err)
	}

	history, err := store.History(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("nothing should be persisted, got %d rows", len(history))
	}
}

func TestRun_PlainTextTurn(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Content: "Hello "}, {Content: "there!"}},
	}}
	o := NewOrchestrator(store, nil, zap.NewNop())
	em := &recordingEmitter{}

	result, err := o.Run(context.Background(), resolvedWith(provider, false), runInput(), em)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "Hello there!" {
		t.Errorf("Content = %q", result.Content)
	}

	// Deltas arrive in production order, done last.
	var deltas []string
	for _, e := range em.events {
		if e.Type == EventTextDelta {
			deltas = append(deltas, e.Content)
		}
	}
	if strings.Join(deltas, "") != "Hello there!" {
		t.Errorf("deltas = %v", deltas)
	}
	if em.events[len(em.events)-1].Type != EventDone {
		t.Errorf("last event = %q, want done", em.events[len(em.events)-1].Type)
	}

	// System prompt goes to the provider, not into the transcript.
	if provider.seen[0][0].Role != "system" {
		t.Errorf("first provider message role = %q, want system", provider.seen[0][0].Role)
	}

	history, err := store.History(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want user + assistant", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "hello" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "Hello there!" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestRun_ToolDispatchLoop(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"latitude":1,"longitude":2}`}}}},
		{{Content: "It is sunny."}},
	}}
	tools := &stubToolset{
		specs:   []llm.Tool{{Name: "get_weather", Parameters: map[string]any{"type": "object"}}},
		payload: json.RawMessage(`{"temperature":21}`),
	}
	o := NewOrchestrator(store, tools, zap.NewNop())
	em := &recordingEmitter{}

	result, err := o.Run(context.Background(), resolvedWith(provider, true), runInput(), em)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "It is sunny." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", result.ToolCalls)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "get_weather" {
		t.Errorf("tool calls = %v", tools.calls)
	}

	// Event order: tool-start before tool-result before the final text.
	var order []string
	for _, e := range em.events {
		order = append(order, e.Type)
	}
	startIdx, resultIdx, textIdx := indexOf(order, EventToolStart), indexOf(order, EventToolResult), indexOf(order, EventTextDelta)
	if !(startIdx < resultIdx && resultIdx < textIdx) {
		t.Errorf("event order = %v", order)
	}

	// The second provider call sees the tool result.
	second := provider.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("last message of second call = %+v", last)
	}

	// Transcript: user, assistant (tool_calls), tool, assistant.
	history, err := store.History(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	roles := make([]string, 0, len(history))
	for _, m := range history {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if history[1].ToolCalls == "" {
		t.Error("assistant tool-call row should record its calls")
	}
}

func TestRun_ToolFailureContinues(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{}`}}}},
		{{Content: "Could not fetch the weather."}},
	}}
	tools := &stubToolset{
		specs: []llm.Tool{{Name: "get_weather", Parameters: map[string]any{"type": "object"}}},
		err:   errors.New("upstream down"),
	}
	o := NewOrchestrator(store, tools, zap.NewNop())
	em := &recordingEmitter{}

	result, err := o.Run(context.Background(), resolvedWith(provider, true), runInput(), em)
	if err != nil {
		t.Fatalf("tool failure must not fail the run: %v", err)
	}
	if result.Content != "Could not fetch the weather." {
		t.Errorf("Content = %q", result.Content)
	}

	// The model sees the failure as an error payload tool result.
	second := provider.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "upstream down") {
		t.Errorf("tool result = %+v", last)
	}
}

func TestRun_StepBound(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	// Every round asks for another tool call; the loop must stop at the bound.
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "get_weather", Arguments: `{}`}}}},
	}}
	tools := &stubToolset{
		specs:   []llm.Tool{{Name: "get_weather", Parameters: map[string]any{"type": "object"}}},
		payload: json.RawMessage(`{}`),
	}
	o := NewOrchestrator(store, tools, zap.NewNop()).WithLimits(3, 0)
	em := &recordingEmitter{}

	if _, err := o.Run(context.Background(), resolvedWith(provider, true), runInput(), em); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want step bound 3", provider.calls)
	}
	if em.events[len(em.events)-1].Type != EventDone {
		t.Error("bounded run still finalizes with done")
	}
}

func TestRun_TransportFailure(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	provider := &scriptedProvider{err: errors.New("connection refused")}
	o := NewOrchestrator(store, nil, zap.NewNop())
	em := &recordingEmitter{}

	_, err := o.Run(context.Background(), resolvedWith(provider, false), runInput(), em)
	if err == nil {
		t.Fatal("expected transport error")
	}

	// Generic error event only; provider internals never reach the client.
	last := em.events[len(em.events)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %q, want error", last.Type)
	}
	if strings.Contains(last.Content, "connection refused") {
		t.Errorf("error event leaks internals: %q", last.Content)
	}

	// The user's own message is retained; no assistant output is persisted.
	history, err := store.History(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Role != "user" {
		t.Errorf("history = %+v, want only the user message", history)
	}
}

// hookedEmitter records events and runs a callback on the first text delta.
type hookedEmitter struct {
	recordingEmitter
	onTextDelta func()
	fired       bool
}

func (h *hookedEmitter) Send(e Event) error {
	if e.Type == EventTextDelta && !h.fired {
		h.fired = true
		h.onTextDelta()
	}
	return h.recordingEmitter.Send(e)
}

func TestRun_PersistFailureNotStreamed(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	provider := &scriptedProvider{scripts: [][]llm.Chunk{{{Content: "Hello"}}}}
	em := &hookedEmitter{}
	em.onTextDelta = func() {
		// Removing the chat makes the final transcript batch fail its
		// foreign key after the output was already streamed.
		if _, err := db.Exec("DELETE FROM chat WHERE id = 'chat-1'"); err != nil {
			t.Fatal(err)
		}
	}

	o := NewOrchestrator(NewStore(db), nil, zap.NewNop())
	result, err := o.Run(context.Background(), resolvedWith(provider, false), runInput(), em)
	if err != nil {
		t.Fatalf("persist failure must not fail the run: %v", err)
	}
	if result.Content != "Hello" {
		t.Errorf("content = %q", result.Content)
	}

	for _, evt := range em.events {
		if evt.Type == EventError {
			t.Fatalf("error event after a delivered stream: %+v", evt)
		}
	}
	if last := em.events[len(em.events)-1]; last.Type != EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	db := newChatTestDB(t)
	store := NewStore(db)
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "c", Name: "slow", Arguments: `{}`}}}},
	}}
	tools := &stubToolset{
		specs:   []llm.Tool{{Name: "slow", Parameters: map[string]any{"type": "object"}}},
		payload: json.RawMessage(`{}`),
	}
	o := NewOrchestrator(store, tools, zap.NewNop()).WithLimits(0, time.Nanosecond)

	_, err := o.Run(context.Background(), resolvedWith(provider, true), runInput(), &recordingEmitter{})
	if err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestMergeToolCalls(t *testing.T) {
	t.Parallel()

	// Same ID replaces arguments (cumulative resend).
	merged := mergeToolCalls(
		[]llm.ToolCall{{ID: "a", Name: "t", Arguments: `{"x":`}},
		[]llm.ToolCall{{ID: "a", Name: "t", Arguments: `{"x":1}`}},
	)
	if len(merged) != 1 || merged[0].Arguments != `{"x":1}` {
		t.Errorf("merged = %+v", merged)
	}

	// ID-less fragments extend the most recent call.
	merged = mergeToolCalls(
		[]llm.ToolCall{{ID: "a", Name: "t", Arguments: `{"x":`}},
		[]llm.ToolCall{{Arguments: `1}`}},
	)
	if len(merged) != 1 || merged[0].Arguments != `{"x":1}` {
		t.Errorf("merged = %+v", merged)
	}

	// Distinct IDs accumulate.
	merged = mergeToolCalls(
		[]llm.ToolCall{{ID: "a", Name: "t1"}},
		[]llm.ToolCall{{ID: "b", Name: "t2"}},
	)
	if len(merged) != 2 {
		t.Errorf("merged = %+v", merged)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	got := sanitize([]Message{
		{Role: "assistant", Content: "keep"},
		{Role: "assistant", Content: "  "},
		{Role: "assistant", Content: "", ToolCalls: `[{"id":"a"}]`},
	})
	if len(got) != 2 {
		t.Fatalf("sanitize kept %d rows, want 2", len(got))
	}
}

func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}
