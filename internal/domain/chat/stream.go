// Package chat owns conversations: the transcript store, the streamed event
// protocol, and the orchestrator that drives a multi-step generation run.
package chat

import "github.com/sibylhq/sibyl/internal/infra/llm"

// Event is one structured item on a run's output stream. The client sees
// events in the exact order the run produces them.
type Event struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Event types emitted during a run.
const (
	EventTextDelta      = "text-delta"
	EventToolStart      = "tool-start"
	EventToolResult     = "tool-result"
	EventDocumentCreate = "document-create"
	EventDocumentDelta  = "document-delta"
	EventDocumentFinish = "document-finish"
	EventSuggestion     = "suggestion"
	EventError          = "error"
	EventDone           = "done"
)

// Emitter delivers events to the client. The SSE handler implements it for
// HTTP; tests use a channel-backed fake.
type Emitter interface {
	Send(Event) error
}

// RunContext identifies the authenticated run a tool executes inside. Emit
// is the same stream the orchestrator writes generation output to, so tools
// can interleave their own events with assistant text. Drafter is the run's
// generation client, available to tools that produce model-written content.
type RunContext struct {
	WorkspaceID string
	AssistantID string
	UserID      string
	ChatID      string
	Emit        Emitter
	Drafter     llm.Provider
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event) error

func (f EmitterFunc) Send(e Event) error { return f(e) }
