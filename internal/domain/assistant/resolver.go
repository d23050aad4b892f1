package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/sibylhq/sibyl/internal/infra/llm"
)

// ErrUnsupportedProvider is returned when an assistant names a provider no
// client implementation exists for.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Resolved is an assistant ready to serve a chat run.
type Resolved struct {
	Assistant    *Config
	Client       llm.Provider
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	ToolsEnabled bool
}

// Resolver turns a stored assistant configuration into a live LLM client.
type Resolver struct {
	store *Store
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads the assistant and constructs its provider client. The provider
// name is validated here so a misconfigured assistant fails before any
// upstream call is made.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, assistantID string) (*Resolved, error) {
	cfg, err := r.store.Get(ctx, workspaceID, assistantID)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewProvider(llm.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		APIURL:   cfg.APIURL,
	})
	if err != nil {
		var unknownErr *llm.UnknownProviderError
		if errors.As(err, &unknownErr) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
		}
		return nil, err
	}

	return &Resolved{
		Assistant:    cfg,
		Client:       client,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		ToolsEnabled: cfg.ToolsEnabled,
	}, nil
}
