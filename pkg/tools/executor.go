package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/store"
)

// Result is what every tool invocation produces, success or not. A
// handler failure becomes {success:false, error} and is fed back to the
// model as a tool message; it never crashes the loop.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

// FieldError attributes a validation failure to one argument.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Handler executes one business action for the given identity.
type Handler func(ctx context.Context, ident *store.Identity, args map[string]any) (any, error)

// Executor dispatches tool calls by name.
type Executor struct {
	catalog  []llm.Tool
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewExecutor validates that the catalog and the handler registry are
// a bijection; a mismatch is a programming error caught at startup.
func NewExecutor(catalog []llm.Tool, handlers map[string]Handler) (*Executor, error) {
	inCatalog := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		inCatalog[t.Name] = true
	}
	var missing, orphaned []string
	for name := range inCatalog {
		if _, ok := handlers[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range handlers {
		if !inCatalog[name] {
			orphaned = append(orphaned, name)
		}
	}
	if len(missing) > 0 || len(orphaned) > 0 {
		sort.Strings(missing)
		sort.Strings(orphaned)
		return nil, fmt.Errorf("tool registry mismatch: missing handlers %v, handlers without catalog entry %v", missing, orphaned)
	}
	return &Executor{
		catalog:  catalog,
		handlers: handlers,
		logger:   logging.NewComponentLogger(slog.Default(), "tool_executor"),
	}, nil
}

// Catalog returns the tool list handed to the completion adapter.
func (e *Executor) Catalog() []llm.Tool {
	return e.catalog
}

// Execute looks up and runs a tool. rawArgs may be a structured map or
// a JSON-encoded string; anything else, including malformed JSON,
// degrades to empty arguments.
func (e *Executor) Execute(ctx context.Context, ident *store.Identity, name string, rawArgs any) (result Result) {
	name = strings.TrimSpace(name)

	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", name, r)}
		}
		metrics.ToolInvocations.WithLabelValues(name, strconv.FormatBool(result.Success)).Inc()
		e.logger.Info("tool_executed", "tool_name", name, "success", result.Success, "error", result.Error)
	}()

	handler, ok := e.handlers[name]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	args, ok := ParseArguments(rawArgs)
	if !ok {
		e.logger.Warn("tool_arguments_malformed", "tool_name", name)
	}

	data, err := handler(ctx, ident, args)
	if err != nil {
		r := Result{Success: false, Error: err.Error()}
		if fe, isField := err.(FieldError); isField {
			r.Field = fe.Field
		}
		return r
	}
	return Result{Success: true, Data: data}
}
