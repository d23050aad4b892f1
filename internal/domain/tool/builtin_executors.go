package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/chat"
	"github.com/sibylhq/sibyl/internal/domain/document"
	"github.com/sibylhq/sibyl/internal/domain/retrieval"
	"github.com/sibylhq/sibyl/internal/infra/llm"
)

var ErrBuiltinExecutionFailed = errors.New("builtin tool execution failed")

// NoInformationFound is returned by get_information when retrieval yields
// nothing usable. The model reads it as a normal tool result, not an error.
const NoInformationFound = "No information found."

const defaultWeatherURL = "https://api.open-meteo.com"

// GetWeatherExecutor fetches current conditions from Open-Meteo. Pure
// external lookup, no shared state.
type GetWeatherExecutor struct {
	client  *http.Client
	baseURL string
}

func NewGetWeatherExecutor(baseURL string) *GetWeatherExecutor {
	if baseURL == "" {
		baseURL = defaultWeatherURL
	}
	return &GetWeatherExecutor{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type getWeatherParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (e *GetWeatherExecutor) Execute(ctx context.Context, params json.RawMessage, _ chat.RunContext) (json.RawMessage, error) {
	var in getWeatherParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid params", ErrBuiltinExecutionFailed)
	}

	url := fmt.Sprintf("%s/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,weather_code,wind_speed_10m&hourly=temperature_2m",
		e.baseURL, in.Latitude, in.Longitude)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrBuiltinExecutionFailed, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: weather lookup: %v", ErrBuiltinExecutionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: weather lookup status %s", ErrBuiltinExecutionFailed, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read weather response: %v", ErrBuiltinExecutionFailed, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: weather response is not json", ErrBuiltinExecutionFailed)
	}
	return body, nil
}

// descriptionPattern pulls the description field out of a chunk's structured
// text, e.g. "name: thing description: what it does".
var descriptionPattern = regexp.MustCompile(`(?i)description:\s*(.+)`)

// GetInformationExecutor answers questions from the workspace knowledge base.
type GetInformationExecutor struct {
	retrieval *retrieval.Service
}

func NewGetInformationExecutor(svc *retrieval.Service) *GetInformationExecutor {
	return &GetInformationExecutor{retrieval: svc}
}

type getInformationParams struct {
	Question string `json:"question"`
}

func (e *GetInformationExecutor) Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	if e.retrieval == nil {
		return nil, fmt.Errorf("%w: retrieval service not configured", ErrBuiltinExecutionFailed)
	}

	var in getInformationParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid params", ErrBuiltinExecutionFailed)
	}

	matches, err := e.retrieval.Query(ctx, rc.WorkspaceID, rc.AssistantID, in.Question)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrBuiltinExecutionFailed, err)
	}

	var descriptions []string
	for _, match := range matches {
		if m := descriptionPattern.FindStringSubmatch(match.Content); m != nil {
			descriptions = append(descriptions, strings.TrimSpace(m[1]))
		}
	}

	answer := NoInformationFound
	if len(descriptions) > 0 {
		answer = strings.Join(descriptions, "\n")
	}
	out, _ := json.Marshal(map[string]string{"information": answer})
	return out, nil
}

// CreateDocumentExecutor creates a document and drafts its content with the
// run's generation client, streaming deltas onto the run's event stream.
type CreateDocumentExecutor struct {
	documents *document.Store
}

func NewCreateDocumentExecutor(store *document.Store) *CreateDocumentExecutor {
	return &CreateDocumentExecutor{documents: store}
}

type createDocumentParams struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (e *CreateDocumentExecutor) Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	if e.documents == nil {
		return nil, fmt.Errorf("%w: document store not configured", ErrBuiltinExecutionFailed)
	}

	var in createDocumentParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid params", ErrBuiltinExecutionFailed)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBuiltinExecutionFailed)
	}

	doc, err := e.documents.Create(ctx, document.Document{
		WorkspaceID: rc.WorkspaceID,
		ChatID:      rc.ChatID,
		Title:       in.Title,
		Kind:        in.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrBuiltinExecutionFailed, err)
	}

	emit(rc, chat.Event{Type: chat.EventDocumentCreate, Payload: map[string]string{
		"id": doc.ID, "title": doc.Title, "kind": doc.Kind,
	}})

	prompt := fmt.Sprintf("Write about the given topic. Markdown is supported.\n\nTopic: %s", in.Title)
	if doc.Kind == "code" {
		prompt = fmt.Sprintf("Write a self-contained code snippet for the given topic, with brief comments.\n\nTopic: %s", in.Title)
	}
	content, err := draft(ctx, rc, prompt, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: draft content: %v", ErrBuiltinExecutionFailed, err)
	}

	if _, err := e.documents.UpdateContent(ctx, rc.WorkspaceID, doc.ID, content); err != nil {
		return nil, fmt.Errorf("%w: save content: %v", ErrBuiltinExecutionFailed, err)
	}

	emit(rc, chat.Event{Type: chat.EventDocumentFinish, Payload: map[string]string{"id": doc.ID}})

	out, _ := json.Marshal(map[string]string{
		"id":    doc.ID,
		"title": doc.Title,
		"kind":  doc.Kind,
	})
	return out, nil
}

// UpdateDocumentExecutor rewrites a document per the model's description,
// streaming the new content as delta events before saving.
type UpdateDocumentExecutor struct {
	documents *document.Store
}

func NewUpdateDocumentExecutor(store *document.Store) *UpdateDocumentExecutor {
	return &UpdateDocumentExecutor{documents: store}
}

type updateDocumentParams struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func (e *UpdateDocumentExecutor) Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	if e.documents == nil {
		return nil, fmt.Errorf("%w: document store not configured", ErrBuiltinExecutionFailed)
	}

	var in updateDocumentParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid params", ErrBuiltinExecutionFailed)
	}

	doc, err := e.documents.Get(ctx, rc.WorkspaceID, in.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuiltinExecutionFailed, err)
	}

	prompt := fmt.Sprintf("Rewrite the following document per the change description. Output only the full updated document.\n\nChange: %s\n\nDocument:\n%s",
		in.Description, doc.Content)
	content, err := draft(ctx, rc, prompt, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: draft content: %v", ErrBuiltinExecutionFailed, err)
	}

	if _, err := e.documents.UpdateContent(ctx, rc.WorkspaceID, doc.ID, content); err != nil {
		return nil, fmt.Errorf("%w: save content: %v", ErrBuiltinExecutionFailed, err)
	}

	emit(rc, chat.Event{Type: chat.EventDocumentFinish, Payload: map[string]string{"id": doc.ID}})

	out, _ := json.Marshal(map[string]string{"id": doc.ID, "title": doc.Title})
	return out, nil
}

// RequestSuggestionsExecutor asks the run's client for improvement
// suggestions on a document and emits one suggestion event per item.
type RequestSuggestionsExecutor struct {
	documents *document.Store
}

func NewRequestSuggestionsExecutor(store *document.Store) *RequestSuggestionsExecutor {
	return &RequestSuggestionsExecutor{documents: store}
}

type requestSuggestionsParams struct {
	DocumentID string `json:"document_id"`
}

func (e *RequestSuggestionsExecutor) Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	if e.documents == nil {
		return nil, fmt.Errorf("%w: document store not configured", ErrBuiltinExecutionFailed)
	}

	var in requestSuggestionsParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid params", ErrBuiltinExecutionFailed)
	}

	doc, err := e.documents.Get(ctx, rc.WorkspaceID, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuiltinExecutionFailed, err)
	}

	prompt := fmt.Sprintf("Suggest improvements for the following document. Output one suggestion per line, no numbering.\n\n%s", doc.Content)
	raw, err := complete(ctx, rc, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: generate suggestions: %v", ErrBuiltinExecutionFailed, err)
	}

	var suggestions []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" {
			continue
		}
		suggestions = append(suggestions, line)
		emit(rc, chat.Event{Type: chat.EventSuggestion, Payload: map[string]string{
			"document_id": doc.ID,
			"suggestion":  line,
		}})
	}

	out, _ := json.Marshal(map[string]any{"document_id": doc.ID, "suggestions": suggestions})
	return out, nil
}

// draft streams a completion for prompt, emitting a document-delta event per
// chunk, and returns the accumulated text.
func draft(ctx context.Context, rc chat.RunContext, prompt, documentID string) (string, error) {
	var content strings.Builder
	err := streamCompletion(ctx, rc, prompt, func(delta string) {
		content.WriteString(delta)
		emit(rc, chat.Event{Type: chat.EventDocumentDelta, Payload: map[string]string{
			"id":      documentID,
			"content": delta,
		}})
	})
	if err != nil {
		return "", err
	}
	return content.String(), nil
}

// complete collects a full completion for prompt without emitting deltas.
func complete(ctx context.Context, rc chat.RunContext, prompt string) (string, error) {
	var content strings.Builder
	err := streamCompletion(ctx, rc, prompt, func(delta string) {
		content.WriteString(delta)
	})
	if err != nil {
		return "", err
	}
	return content.String(), nil
}

func streamCompletion(ctx context.Context, rc chat.RunContext, prompt string, onDelta func(string)) error {
	if rc.Drafter == nil {
		return errors.New("no generation client on run context")
	}
	stream, err := rc.Drafter.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if chunk.Content != "" {
			onDelta(chunk.Content)
		}
	}
}

func emit(rc chat.RunContext, e chat.Event) {
	if rc.Emit == nil {
		return
	}
	_ = rc.Emit.Send(e)
}
