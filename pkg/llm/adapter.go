package llm

import (
	"context"
	"encoding/json"
)

// Tool is one entry of the tool catalog handed to the completion provider.
// Schema is a JSON-Schema-like object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Schema      any
}

// Context is the payload of a single completion call: the full message
// history plus the tool catalog constraining the model's output.
type Context struct {
	Messages []map[string]any
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall is a structured action requested by the model. Arguments is
// the parsed form; RawArguments preserves the provider's JSON encoding
// for history entries and turn logs.
type ToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]any
	RawArguments string
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
	Model        string
	// Raw is the provider's unmodified response payload, kept for the
	// conversation turn log.
	Raw json.RawMessage
}

// CompletionAdapter wraps a chat-completion service with tool calling.
type CompletionAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	Name() string
}
