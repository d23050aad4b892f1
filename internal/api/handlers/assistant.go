package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sibylhq/sibyl/internal/domain/assistant"
	"github.com/sibylhq/sibyl/internal/domain/billing"
)

// AssistantHandler exposes assistant CRUD. Creation is gated by the
// workspace's subscription quota.
type AssistantHandler struct {
	store *assistant.Store
	quota *billing.QuotaService
}

func NewAssistantHandler(store *assistant.Store, quota *billing.QuotaService) *AssistantHandler {
	return &AssistantHandler{store: store, quota: quota}
}

// assistantRequest is the request body for create and update.
type assistantRequest struct {
	Name         string  `json:"name"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"systemPrompt"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
	ToolsEnabled bool    `json:"toolsEnabled"`
	APIKey       string  `json:"apiKey"`
	APIURL       string  `json:"apiUrl"`
}

// Create handles POST /api/v1/assistants.
//
// Response codes:
//   - 201 Created
//   - 400 Bad Request: invalid JSON or missing required fields
//   - 402 Payment Required: assistant quota exhausted
//   - 500 Internal Server Error
func (h *AssistantHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := validateAssistantRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := h.quota.CheckAssistantQuota(ctx, wsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "quota check failed")
		return
	}
	if !decision.Allowed {
		writeError(w, http.StatusPaymentRequired, decision.Reason)
		return
	}

	created, err := h.store.Create(ctx, assistant.Config{
		WorkspaceID:  wsID,
		Name:         req.Name,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		ToolsEnabled: req.ToolsEnabled,
		APIKey:       req.APIKey,
		APIURL:       req.APIURL,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create assistant")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/v1/assistants/{id}.
func (h *AssistantHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	cfg, err := h.store.Get(ctx, wsID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, assistant.ErrAssistantNotFound) {
			writeError(w, http.StatusNotFound, "assistant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get assistant")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// List handles GET /api/v1/assistants.
func (h *AssistantHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	configs, err := h.store.List(ctx, wsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assistants")
		return
	}
	if configs == nil {
		configs = []assistant.Config{}
	}

	writeJSON(w, http.StatusOK, configs)
}

// Update handles PUT /api/v1/assistants/{id}. Omitted fields keep their
// existing values.
func (h *AssistantHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	existing, err := h.store.Get(ctx, wsID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, assistant.ErrAssistantNotFound) {
			writeError(w, http.StatusNotFound, "assistant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get assistant")
		return
	}

	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	updated, err := h.store.Update(ctx, mergeAssistantRequest(req, existing))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update assistant")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/assistants/{id}.
func (h *AssistantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingWorkspaceContext)
		return
	}

	if err := h.store.Delete(ctx, wsID, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, assistant.ErrAssistantNotFound) {
			writeError(w, http.StatusNotFound, "assistant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete assistant")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validateAssistantRequest(req assistantRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.Provider == "" {
		return errors.New("provider is required")
	}
	if req.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// mergeAssistantRequest overlays the update request on the stored config.
func mergeAssistantRequest(req assistantRequest, existing *assistant.Config) assistant.Config {
	merged := *existing
	if req.Name != "" {
		merged.Name = req.Name
	}
	if req.Provider != "" {
		merged.Provider = req.Provider
	}
	if req.Model != "" {
		merged.Model = req.Model
	}
	if req.SystemPrompt != "" {
		merged.SystemPrompt = req.SystemPrompt
	}
	if req.Temperature != 0 {
		merged.Temperature = req.Temperature
	}
	if req.MaxTokens != 0 {
		merged.MaxTokens = req.MaxTokens
	}
	if req.APIKey != "" {
		merged.APIKey = req.APIKey
	}
	if req.APIURL != "" {
		merged.APIURL = req.APIURL
	}
	merged.ToolsEnabled = req.ToolsEnabled
	return merged
}
