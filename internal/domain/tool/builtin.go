package tool

import (
	"github.com/sibylhq/sibyl/internal/domain/document"
	"github.com/sibylhq/sibyl/internal/domain/retrieval"
)

const (
	BuiltinGetWeather         = "get_weather"
	BuiltinGetInformation     = "get_information"
	BuiltinCreateDocument     = "create_document"
	BuiltinUpdateDocument     = "update_document"
	BuiltinRequestSuggestions = "request_suggestions"
)

// BuiltinServices carries the collaborators the built-in executors need.
type BuiltinServices struct {
	Retrieval  *retrieval.Service
	Documents  *document.Store
	WeatherURL string // override for tests; empty means the public Open-Meteo API
}

// RegisterBuiltins populates the registry with the standard tool set.
func RegisterBuiltins(r *Registry, svcs BuiltinServices) error {
	defs := []Definition{
		{
			Name:        BuiltinGetWeather,
			Description: "Get the current weather at a location",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"latitude", "longitude"},
				"properties": map[string]any{
					"latitude":  map[string]any{"type": "number"},
					"longitude": map[string]any{"type": "number"},
				},
				"additionalProperties": false,
			},
			Executor: NewGetWeatherExecutor(svcs.WeatherURL),
		},
		{
			Name:        BuiltinGetInformation,
			Description: "Look up information from the assistant's knowledge base to answer questions",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"question"},
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
			Executor: NewGetInformationExecutor(svcs.Retrieval),
		},
		{
			Name:        BuiltinCreateDocument,
			Description: "Create a document for writing or content creation activities",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"title"},
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"kind":  map[string]any{"type": "string", "enum": []string{"text", "code"}},
				},
				"additionalProperties": false,
			},
			Executor: NewCreateDocumentExecutor(svcs.Documents),
		},
		{
			Name:        BuiltinUpdateDocument,
			Description: "Update an existing document with the described changes",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"id", "description"},
				"properties": map[string]any{
					"id":          map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
			Executor: NewUpdateDocumentExecutor(svcs.Documents),
		},
		{
			Name:        BuiltinRequestSuggestions,
			Description: "Request improvement suggestions for a document",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"document_id"},
				"properties": map[string]any{
					"document_id": map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
			Executor: NewRequestSuggestionsExecutor(svcs.Documents),
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
