// Package handlers translates HTTP requests into domain service calls and
// maps domain errors to status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sibylhq/sibyl/internal/api/ctxkeys"
)

const (
	headerContentType = "Content-Type"
	mimeJSON          = "application/json"

	errInvalidBody             = "invalid request body"
	errMissingWorkspaceContext = "missing workspace context"
	errFailedToEncodeJSON      = `{"error":"failed to encode response"}`
)

// getWorkspaceID retrieves the workspace from context. Empty means the auth
// middleware did not run, which on protected routes is a programming error
// surfaced as 401.
func getWorkspaceID(ctx context.Context) (string, error) {
	wsID := ctxkeys.String(ctx, ctxkeys.WorkspaceID)
	if wsID == "" {
		return "", errors.New("workspace_id not found in context")
	}
	return wsID, nil
}

func getUserID(ctx context.Context) (string, error) {
	userID := ctxkeys.String(ctx, ctxkeys.UserID)
	if userID == "" {
		return "", errors.New("user_id not found in context")
	}
	return userID, nil
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		http.Error(w, errFailedToEncodeJSON, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, errFailedToEncodeJSON, http.StatusInternalServerError)
	}
}
