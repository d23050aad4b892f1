package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sibylhq/sibyl/internal/domain/retrieval"
	"github.com/sibylhq/sibyl/internal/infra/eventbus"
)

// KnowledgeHandler exposes knowledge ingestion and similarity queries.
// Ingestion is asynchronous: the handler publishes to the bus and the
// retrieval indexer embeds off the request path.
type KnowledgeHandler struct {
	retrieval *retrieval.Service
	bus       eventbus.EventBus
}

func NewKnowledgeHandler(svc *retrieval.Service, bus eventbus.EventBus) *KnowledgeHandler {
	return &KnowledgeHandler{retrieval: svc, bus: bus}
}

type ingestRequest struct {
	AssistantID string `json:"assistantId"`
	Text        string `json:"text"`
}

type queryRequest struct {
	AssistantID string `json:"assistantId"`
	Text        string `json:"text"`
}

type queryResponse struct {
	Matches []retrieval.Match `json:"matches"`
}

// Ingest handles POST /api/v1/knowledge/ingest.
//
// Response codes:
//   - 202 Accepted: ingestion queued
//   - 400 Bad Request: invalid JSON or missing fields
func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := validateIngestRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.bus.Publish(retrieval.TopicIngestRequested, retrieval.IngestRequest{
		WorkspaceID: wsID,
		AssistantID: req.AssistantID,
		Text:        req.Text,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// Query handles POST /api/v1/knowledge/query, returning ranked matches.
func (h *KnowledgeHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	matches, err := h.retrieval.Query(ctx, wsID, req.AssistantID, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if matches == nil {
		matches = []retrieval.Match{}
	}

	writeJSON(w, http.StatusOK, queryResponse{Matches: matches})
}

func validateIngestRequest(req ingestRequest) error {
	if req.Text == "" {
		return errors.New("text is required")
	}
	return nil
}
