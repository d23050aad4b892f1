// Package llm provides streaming chat-completion and embedding clients for
// the hosted model providers an assistant can be configured with.
package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Provider streams chat completions. Recv on the returned Stream yields
// chunks until io.EOF.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (Stream, error)
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// CompletionRequest carries the per-call generation settings alongside the
// conversation. Temperature and MaxTokens of zero mean provider defaults.
type CompletionRequest struct {
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
}

// Chunk is one streamed delta. ToolCalls carry partial arguments that the
// caller accumulates by call ID.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
}

// Message is one conversation turn. ToolCalls is set on assistant messages
// that requested tool execution; ToolCallID ties a tool-role result back to
// the call it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Config selects and authenticates a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	APIURL   string
}

// NewProvider builds the streaming client for cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, &UnknownProviderError{Provider: cfg.Provider}
	}
}

// UnknownProviderError reports a provider name no client exists for.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown LLM provider %q", e.Provider)
}

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) Stream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
