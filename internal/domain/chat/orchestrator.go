package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/domain/assistant"
	"github.com/sibylhq/sibyl/internal/infra/llm"
)

// ErrNoUserMessage is returned when the incoming history carries no user
// message. Mapped to 400 by the handler before any streaming starts.
var ErrNoUserMessage = errors.New("chat requires at least one user message")

const (
	// DefaultMaxSteps bounds the generate → tool-dispatch cycle.
	DefaultMaxSteps = 5
	// DefaultRunTimeout is the wall clock limit for a full run.
	DefaultRunTimeout = 60 * time.Second
)

// userFacingError is the only error text streamed to clients. Provider and
// tool internals stay in the server log.
const userFacingError = "Something went wrong while generating a response. Please try again."

// Toolset is the registry surface the orchestrator needs. Implemented by
// tool.Registry.
type Toolset interface {
	Specs() []llm.Tool
	Execute(ctx context.Context, name string, params json.RawMessage, rc RunContext) (json.RawMessage, error)
}

// RunInput is one chat turn to execute.
type RunInput struct {
	WorkspaceID string
	UserID      string
	ChatID      string
	Messages    []llm.Message
}

// RunResult summarizes a completed run.
type RunResult struct {
	Content   string
	Steps     int
	ToolCalls int
}

// Orchestrator drives the multi-step generation loop for a chat turn and
// persists the transcript when the run completes.
type Orchestrator struct {
	store      *Store
	tools      Toolset
	logger     *zap.Logger
	maxSteps   int
	runTimeout time.Duration
}

func NewOrchestrator(store *Store, tools Toolset, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		tools:      tools,
		logger:     logger,
		maxSteps:   DefaultMaxSteps,
		runTimeout: DefaultRunTimeout,
	}
}

// WithLimits overrides the step bound and wall clock limit. Zero values keep
// the defaults.
func (o *Orchestrator) WithLimits(maxSteps int, runTimeout time.Duration) *Orchestrator {
	if maxSteps > 0 {
		o.maxSteps = maxSteps
	}
	if runTimeout > 0 {
		o.runTimeout = runTimeout
	}
	return o
}

// Run executes one chat turn: it persists the user's message, loops
// generation and tool dispatch until the model stops calling tools or the
// step bound is hit, streams every chunk to em in production order, and
// persists the assistant/tool transcript as one batch at the end.
//
// On failure after the user message is stored, that message is retained but
// none of the turn's output is persisted, and the client receives a generic
// error event. A persist failure after the stream was delivered is logged
// and swallowed; the client still gets the done event.
func (o *Orchestrator) Run(ctx context.Context, resolved *assistant.Resolved, in RunInput, em Emitter) (RunResult, error) {
	if !hasUserMessage(in.Messages) {
		return RunResult{}, ErrNoUserMessage
	}

	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	// The user's own input survives a failed run.
	lastUser := lastUserMessage(in.Messages)
	if _, err := o.store.AppendMessage(ctx, Message{
		ChatID:  in.ChatID,
		Role:    "user",
		Content: lastUser.Content,
	}); err != nil {
		return RunResult{}, err
	}

	result, pending, err := o.generate(ctx, resolved, in, em)
	if err != nil {
		o.logger.Error("chat run failed",
			zap.String("chat_id", in.ChatID),
			zap.String("workspace_id", in.WorkspaceID),
			zap.Error(err))
		_ = em.Send(Event{Type: EventError, Content: userFacingError})
		return RunResult{}, err
	}

	// The streamed output has already reached the client; losing the
	// transcript rows is logged, never surfaced on the stream.
	if err := o.store.AppendBatch(ctx, sanitize(pending)); err != nil {
		o.logger.Warn("chat transcript persist failed",
			zap.String("chat_id", in.ChatID),
			zap.Error(err))
	}

	_ = em.Send(Event{Type: EventDone})
	return result, nil
}

// generate runs the bounded generation ↔ tool-dispatch loop. It returns the
// transcript rows to persist; nothing is written here so a transport failure
// leaves no partial assistant output behind.
func (o *Orchestrator) generate(ctx context.Context, resolved *assistant.Resolved, in RunInput, em Emitter) (RunResult, []Message, error) {
	messages := withSystemPrompt(resolved.SystemPrompt, in.Messages)

	var tools []llm.Tool
	if resolved.ToolsEnabled && o.tools != nil {
		tools = o.tools.Specs()
	}

	rc := RunContext{
		WorkspaceID: in.WorkspaceID,
		AssistantID: resolved.Assistant.ID,
		UserID:      in.UserID,
		ChatID:      in.ChatID,
		Emit:        em,
		Drafter:     resolved.Client,
	}

	var pending []Message
	var finalContent strings.Builder
	totalToolCalls := 0
	steps := 0

	for step := 0; step < o.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, nil, err
		}

		content, calls, err := o.streamOnce(ctx, resolved, messages, tools, em)
		if err != nil {
			return RunResult{}, nil, err
		}
		steps++
		finalContent.WriteString(content)

		if len(calls) == 0 {
			if content != "" {
				pending = append(pending, Message{ChatID: in.ChatID, Role: "assistant", Content: content})
			}
			break
		}

		// The model sees its own tool-use message followed by the results,
		// pairing the next round the way providers require.
		assistantMsg := llm.Message{Role: "assistant", Content: content, ToolCalls: calls}
		messages = append(messages, assistantMsg)
		pending = append(pending, Message{
			ChatID:    in.ChatID,
			Role:      "assistant",
			Content:   content,
			ToolCalls: encodeToolCalls(calls),
		})

		for _, call := range calls {
			totalToolCalls++
			_ = em.Send(Event{Type: EventToolStart, ToolName: call.Name})

			payload := o.dispatch(ctx, call, rc)

			_ = em.Send(Event{Type: EventToolResult, ToolName: call.Name, Payload: json.RawMessage(payload)})

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    string(payload),
				Name:       call.Name,
				ToolCallID: call.ID,
			})
			pending = append(pending, Message{
				ChatID:    in.ChatID,
				Role:      "tool",
				Content:   string(payload),
				ToolCalls: encodeToolCalls([]llm.ToolCall{call}),
			})
		}
	}

	return RunResult{
		Content:   finalContent.String(),
		Steps:     steps,
		ToolCalls: totalToolCalls,
	}, pending, nil
}

// streamOnce performs a single provider call, emitting text deltas as they
// arrive and accumulating tool calls across chunks.
func (o *Orchestrator) streamOnce(ctx context.Context, resolved *assistant.Resolved, messages []llm.Message, tools []llm.Tool, em Emitter) (string, []llm.ToolCall, error) {
	stream, err := resolved.Client.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Tools:       tools,
		Temperature: resolved.Temperature,
		MaxTokens:   resolved.MaxTokens,
	})
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var calls []llm.ToolCall
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", nil, err
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			if sendErr := em.Send(Event{Type: EventTextDelta, Content: chunk.Content}); sendErr != nil {
				return "", nil, sendErr
			}
		}
		if len(chunk.ToolCalls) > 0 {
			calls = mergeToolCalls(calls, chunk.ToolCalls)
		}
	}
	return content.String(), calls, nil
}

// dispatch executes one tool call. Any failure, including invalid arguments,
// becomes an error payload the model can read; the run never aborts here.
func (o *Orchestrator) dispatch(ctx context.Context, call llm.ToolCall, rc RunContext) json.RawMessage {
	params := json.RawMessage(call.Arguments)
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	if o.tools == nil {
		return errorPayload(fmt.Sprintf("tool %q is not available", call.Name))
	}
	out, err := o.tools.Execute(ctx, call.Name, params, rc)
	if err != nil {
		o.logger.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.String("chat_id", rc.ChatID),
			zap.Error(err))
		return errorPayload(err.Error())
	}
	if len(out) == 0 {
		return json.RawMessage(`{}`)
	}
	return out
}

func errorPayload(msg string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return out
}

// mergeToolCalls accumulates tool calls across streaming chunks. A chunk
// carrying an ID already seen replaces that call's arguments (providers that
// resend the full buffer each frame); an ID-less fragment extends the most
// recent call (providers that split arguments across frames).
func mergeToolCalls(existing, incoming []llm.ToolCall) []llm.ToolCall {
	for _, inc := range incoming {
		if inc.ID == "" && len(existing) > 0 {
			existing[len(existing)-1].Arguments += inc.Arguments
			if inc.Name != "" {
				existing[len(existing)-1].Name = inc.Name
			}
			continue
		}
		found := false
		for i, ex := range existing {
			if ex.ID != "" && ex.ID == inc.ID {
				existing[i].Arguments = inc.Arguments
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, inc)
		}
	}
	return existing
}

// sanitize drops malformed trailing rows before persistence: messages with
// neither content nor tool calls carry no information for later turns.
func sanitize(messages []Message) []Message {
	out := messages[:0]
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" && m.ToolCalls == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func withSystemPrompt(prompt string, messages []llm.Message) []llm.Message {
	if prompt == "" {
		return messages
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: "system", Content: prompt})
	return append(out, messages...)
}

func hasUserMessage(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

func lastUserMessage(messages []llm.Message) llm.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i]
		}
	}
	return llm.Message{}
}

func encodeToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	type record struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments,omitempty"`
	}
	records := make([]record, 0, len(calls))
	for _, c := range calls {
		records = append(records, record{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	out, _ := json.Marshal(records)
	return string(out)
}
