package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/store"
)

func testCatalog() []llm.Tool {
	return []llm.Tool{
		{Name: "echo", Description: "echo", Schema: map[string]any{"type": "object"}},
		{Name: "explode", Description: "explode", Schema: map[string]any{"type": "object"}},
	}
}

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	handlers := map[string]Handler{
		"echo": func(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
			return args, nil
		},
		"explode": func(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
			if mode, _ := args["mode"].(string); mode == "panic" {
				panic("boom")
			}
			if field, _ := args["field"].(string); field != "" {
				return nil, FieldError{Field: field, Message: "invalid"}
			}
			return nil, errors.New("handler failed")
		},
	}
	e, err := NewExecutor(testCatalog(), handlers)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return e
}

func TestExecuteUnknownToolIsStructuredError(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "nope", nil)
	if r.Success {
		t.Fatal("expected failure")
	}
	if r.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestExecuteAcceptsJSONStringArguments(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "echo", `{"Query":"Dupont"}`)
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	data := r.Data.(map[string]any)
	if data["query"] != "Dupont" {
		t.Fatalf("expected lowercased key, got %v", data)
	}
}

func TestExecuteMalformedJSONFallsBackToEmpty(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "echo", `{not json`)
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if data := r.Data.(map[string]any); len(data) != 0 {
		t.Fatalf("expected empty arguments, got %v", data)
	}
}

func TestExecuteHandlerErrorBecomesResult(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "explode", map[string]any{})
	if r.Success {
		t.Fatal("expected failure")
	}
	if r.Error != "handler failed" {
		t.Fatalf("unexpected error %q", r.Error)
	}
}

func TestExecuteFieldErrorCarriesField(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "explode", map[string]any{"field": "query"})
	if r.Success || r.Field != "query" {
		t.Fatalf("expected field error, got %+v", r)
	}
}

func TestExecuteHandlerPanicIsCaught(t *testing.T) {
	e := testExecutor(t)
	r := e.Execute(context.Background(), nil, "explode", map[string]any{"mode": "panic"})
	if r.Success {
		t.Fatal("expected failure")
	}
}

func TestNewExecutorRejectsRegistryMismatch(t *testing.T) {
	handlers := map[string]Handler{
		"echo": func(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) { return nil, nil },
	}
	if _, err := NewExecutor(testCatalog(), handlers); err == nil {
		t.Fatal("expected mismatch error for missing handler")
	}
	handlers["explode"] = handlers["echo"]
	handlers["rogue"] = handlers["echo"]
	if _, err := NewExecutor(testCatalog(), handlers); err == nil {
		t.Fatal("expected mismatch error for orphaned handler")
	}
}
