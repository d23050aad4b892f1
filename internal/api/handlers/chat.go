package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/domain/assistant"
	"github.com/sibylhq/sibyl/internal/domain/chat"
	"github.com/sibylhq/sibyl/internal/infra/llm"
)

const chatTitleMaxLen = 80

// ChatHandler exposes the streaming chat endpoint plus chat management.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	chats        *chat.Store
	resolver     *assistant.Resolver
	logger       *zap.Logger
}

func NewChatHandler(orchestrator *chat.Orchestrator, chats *chat.Store, resolver *assistant.Resolver, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		chats:        chats,
		resolver:     resolver,
		logger:       logger,
	}
}

// chatRequest is the request body for POST /api/v1/chat. SelectedChatModel
// names the assistant the turn runs against.
type chatRequest struct {
	ID                string               `json:"id"`
	Messages          []chatRequestMessage `json:"messages"`
	SelectedChatModel string               `json:"selectedChatModel"`
}

type chatRequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream handles POST /api/v1/chat. The response is an SSE stream of
// interleaved text deltas and tool events, terminated by a `[DONE]` marker.
//
// Response codes:
//   - 200 OK: stream started (failures after this point arrive as error
//     events on the stream itself)
//   - 400 Bad Request: invalid JSON, missing chat id or model, or a history
//     without a user message
//   - 401 Unauthorized: missing auth context
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}
	userID, err := getUserID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := validateChatRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages := toLLMMessages(req.Messages)

	bw, flusher, err := prepareSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	emitter := &sseEmitter{bw: bw, flusher: flusher}

	// From here on every failure is delivered as an error event; the status
	// line is already on the wire.
	resolved, err := h.resolver.Resolve(ctx, wsID, req.SelectedChatModel)
	if err != nil {
		h.logger.Warn("assistant resolution failed",
			zap.String("workspace_id", wsID),
			zap.String("assistant_id", req.SelectedChatModel),
			zap.Error(err))
		_ = emitter.Send(chat.Event{Type: chat.EventError, Content: "The selected assistant is not available."})
		emitter.finish()
		return
	}

	if err := h.ensureChat(r, wsID, userID, req); err != nil {
		h.logger.Error("chat preparation failed",
			zap.String("chat_id", req.ID),
			zap.Error(err))
		_ = emitter.Send(chat.Event{Type: chat.EventError, Content: "Something went wrong while starting the chat. Please try again."})
		emitter.finish()
		return
	}

	_, runErr := h.orchestrator.Run(ctx, resolved, chat.RunInput{
		WorkspaceID: wsID,
		UserID:      userID,
		ChatID:      req.ID,
		Messages:    messages,
	}, emitter)
	if runErr != nil {
		// The orchestrator already emitted the user-facing error event.
		h.logger.Error("chat stream failed",
			zap.String("chat_id", req.ID),
			zap.Error(runErr))
	}
	emitter.finish()
}

// ensureChat creates the chat row on first contact. The title comes from the
// first user message, truncated.
func (h *ChatHandler) ensureChat(r *http.Request, wsID, userID string, req chatRequest) error {
	ctx := r.Context()
	_, err := h.chats.GetChat(ctx, wsID, req.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, chat.ErrChatNotFound) {
		return err
	}

	_, err = h.chats.CreateChat(ctx, chat.Chat{
		ID:          req.ID,
		WorkspaceID: wsID,
		UserID:      userID,
		AssistantID: req.SelectedChatModel,
		Title:       titleFromMessages(req.Messages),
	})
	return err
}

// List handles GET /api/v1/chat.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	chats, err := h.chats.ListChats(ctx, wsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}

	writeJSON(w, http.StatusOK, chats)
}

// Delete handles DELETE /api/v1/chat?id=.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}

	if err := h.chats.DeleteChat(ctx, wsID, id); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/chat/{id}/messages.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.chats.GetChat(ctx, wsID, id); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	messages, err := h.chats.History(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// sseEmitter writes chat events as server-sent events, flushing after each
// one so clients see deltas as they are produced.
type sseEmitter struct {
	bw      *bufio.Writer
	flusher http.Flusher
}

func (e *sseEmitter) Send(event chat.Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.bw, "data: %s\n\n", b); err != nil {
		return err
	}
	if err := e.bw.Flush(); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) finish() {
	_, _ = fmt.Fprint(e.bw, "data: [DONE]\n\n")
	_ = e.bw.Flush()
	e.flusher.Flush()
}

func prepareSSEStream(w http.ResponseWriter) (*bufio.Writer, http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Flusher")
	}

	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return bufio.NewWriter(w), flusher, nil
}

func validateChatRequest(req chatRequest) error {
	if req.ID == "" {
		return errors.New("id is required")
	}
	if req.SelectedChatModel == "" {
		return errors.New("selectedChatModel is required")
	}
	if !hasUserContent(req.Messages) {
		return errors.New("at least one user message is required")
	}
	return nil
}

func hasUserContent(messages []chatRequestMessage) bool {
	for _, m := range messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

func toLLMMessages(messages []chatRequestMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func titleFromMessages(messages []chatRequestMessage) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		title := strings.TrimSpace(m.Content)
		// Truncate on rune boundaries so a multibyte title stays valid UTF-8.
		if runes := []rune(title); len(runes) > chatTitleMaxLen {
			title = string(runes[:chatTitleMaxLen])
		}
		if title != "" {
			return title
		}
	}
	return "New chat"
}
