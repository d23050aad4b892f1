package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sibylhq/sibyl/internal/domain/chat"
)

func noopExecutor() Executor {
	return ExecutorFunc(func(_ context.Context, _ json.RawMessage, _ chat.RunContext) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
}

func weatherLikeDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "test tool",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"city"},
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		Executor: noopExecutor(),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(weatherLikeDefinition("lookup")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, err := r.Get("lookup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.Name != "lookup" {
		t.Errorf("Name = %q", def.Name)
	}

	if err := r.Register(weatherLikeDefinition("lookup")); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("duplicate Register err = %v, want ErrToolAlreadyRegistered", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrToolNotRegistered) {
		t.Errorf("Get(missing) err = %v, want ErrToolNotRegistered", err)
	}
}

func TestRegistry_SpecsPreservesOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := r.Register(weatherLikeDefinition(name)); err != nil {
			t.Fatal(err)
		}
	}

	specs := r.Specs()
	if len(specs) != 3 {
		t.Fatalf("specs = %d, want 3", len(specs))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if specs[i].Name != want {
			t.Errorf("specs[%d].Name = %q, want %q", i, specs[i].Name, want)
		}
	}
	if specs[0].Parameters == nil {
		t.Error("specs should carry the parameter schema")
	}
}

func TestRegistry_ValidateParams(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(weatherLikeDefinition("lookup")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		params  string
		wantErr bool
	}{
		{"valid", `{"city":"Lima"}`, false},
		{"missing required", `{}`, true},
		{"unknown field", `{"city":"Lima","country":"PE"}`, true},
		{"not an object", `[1,2]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := r.ValidateParams("lookup", json.RawMessage(tt.params))
			if tt.wantErr && !errors.Is(err, ErrToolValidationFailed) {
				t.Errorf("err = %v, want ErrToolValidationFailed", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected err = %v", err)
			}
		})
	}
}

func TestRegistry_ExecuteValidatesFirst(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	called := false
	def := weatherLikeDefinition("lookup")
	def.Executor = ExecutorFunc(func(_ context.Context, _ json.RawMessage, _ chat.RunContext) (json.RawMessage, error) {
		called = true
		return json.RawMessage(`{}`), nil
	})
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}

	_, err := r.Execute(context.Background(), "lookup", json.RawMessage(`{}`), chat.RunContext{})
	if !errors.Is(err, ErrToolValidationFailed) {
		t.Fatalf("err = %v, want ErrToolValidationFailed", err)
	}
	if called {
		t.Error("executor ran despite failed validation")
	}

	out, err := r.Execute(context.Background(), "lookup", json.RawMessage(`{"city":"Lima"}`), chat.RunContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called || out == nil {
		t.Error("executor should run for valid params")
	}
}
