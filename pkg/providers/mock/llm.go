package mock

import (
	"context"
	"sync"

	"github.com/billowhq/billow/pkg/llm"
)

// LLMAdapter replays scripted responses in order, repeating the last
// one once the script runs out.
type LLMAdapter struct {
	mu        sync.Mutex
	responses []llm.Response
	err       error
	calls     int
	requests  []llm.Context
}

func NewLLMAdapter(responses ...llm.Response) *LLMAdapter {
	if len(responses) == 0 {
		responses = []llm.Response{{Text: "mock response"}}
	}
	return &LLMAdapter{responses: responses}
}

// NewLLMError returns an adapter whose Generate always fails with err.
func NewLLMError(err error) *LLMAdapter {
	return &LLMAdapter{err: err}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, input)
	a.calls++
	if a.err != nil {
		return llm.Response{}, a.err
	}
	idx := a.calls - 1
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	return a.responses[idx], nil
}

// Calls returns how many completion calls were made.
func (a *LLMAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Requests returns the recorded inputs of every completion call.
func (a *LLMAdapter) Requests() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Context, len(a.requests))
	copy(out, a.requests)
	return out
}
