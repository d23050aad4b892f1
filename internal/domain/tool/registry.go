// Package tool is the registry of functions the model can call during a chat
// run, plus the built-in executors behind them.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/domain/chat"
	"github.com/sibylhq/sibyl/internal/infra/llm"
)

var (
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNotRegistered     = errors.New("tool not registered")
	ErrToolValidationFailed  = errors.New("tool params validation failed")
)

// Executor runs a tool call inside an authenticated chat run.
type Executor interface {
	Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	return f(ctx, params, rc)
}

// Definition describes one callable tool: the description tells the model
// when to invoke it, Parameters is its JSON-schema parameter object.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Executor    Executor
}

// Registry holds the tools available to chat runs. Registration happens at
// startup; lookups are read-only afterwards.
type Registry struct {
	tools map[string]Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds a tool definition. Names must be unique.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" || def.Executor == nil {
		return fmt.Errorf("%w: name and executor are required", ErrToolNotRegistered)
	}
	if _, exists := r.tools[name]; exists {
		return ErrToolAlreadyRegistered
	}
	def.Name = name
	r.tools[name] = def
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool definition.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.tools[name]
	if !ok {
		return Definition{}, ErrToolNotRegistered
	}
	return def, nil
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Specs returns the tool set in the shape the provider call expects.
func (r *Registry) Specs() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		out = append(out, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// Execute validates params against the tool's schema and runs its executor.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, rc chat.RunContext) (json.RawMessage, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := r.ValidateParams(name, params); err != nil {
		return nil, err
	}
	return def.Executor.Execute(ctx, params, rc)
}

// ValidateParams checks params against the tool's parameter schema: required
// keys must be present, and unknown keys are rejected when the schema sets
// additionalProperties to false.
func (r *Registry) ValidateParams(name string, params json.RawMessage) error {
	def, err := r.Get(name)
	if err != nil {
		return err
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var input map[string]any
	if err := json.Unmarshal(params, &input); err != nil {
		return fmt.Errorf("%w: params must be a json object", ErrToolValidationFailed)
	}

	return validateAgainstMinimalSchema(input, def.Parameters)
}

func validateAgainstMinimalSchema(input, schema map[string]any) error {
	requiredKeys := extractStringSlice(schema["required"])
	for _, key := range requiredKeys {
		if _, ok := input[key]; !ok {
			return fmt.Errorf("%w: missing required field %q", ErrToolValidationFailed, key)
		}
	}

	allowAdditional := true
	if v, ok := schema["additionalProperties"].(bool); ok {
		allowAdditional = v
	}

	allowedProps := map[string]struct{}{}
	if props, ok := schema["properties"].(map[string]any); ok {
		for key := range props {
			allowedProps[key] = struct{}{}
		}
	}

	if !allowAdditional {
		for key := range input {
			if _, ok := allowedProps[key]; !ok {
				return fmt.Errorf("%w: unknown field %q", ErrToolValidationFailed, key)
			}
		}
	}

	return nil
}

func extractStringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
