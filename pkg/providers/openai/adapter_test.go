package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/resilience"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestGenerateParsesTextResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}
		if _, hasTools := req["tools"]; !hasTools {
			t.Error("tools missing from request")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Bonjour !"},
			}},
			"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 5, "total_tokens": 45},
		})
	})

	resp, err := a.Generate(context.Background(), llm.Context{
		Messages: []map[string]any{{"role": "user", "content": "Bonjour"}},
		Tools:    []llm.Tool{{Name: "search_clients", Schema: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "Bonjour !" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 45 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if len(resp.Raw) == 0 {
		t.Fatal("raw payload must be preserved for turn logs")
	}
}

func TestGenerateParsesToolCalls(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "search_clients",
							"arguments": `{"query":"Dupont"}`,
						},
					}},
				},
			}},
		})
	})

	resp, err := a.Generate(context.Background(), llm.Context{Messages: []map[string]any{{"role": "user", "content": "cherche Dupont"}}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "search_clients" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.Arguments["query"] != "Dupont" {
		t.Fatalf("parsed arguments = %v", call.Arguments)
	}
	if call.RawArguments != `{"query":"Dupont"}` {
		t.Fatalf("raw arguments = %q", call.RawArguments)
	}
}

func TestGenerateRateLimitOpensBreaker(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	input := llm.Context{Messages: []map[string]any{{"role": "user", "content": "x"}}}
	for i := 0; i < 3; i++ {
		_, err := a.Generate(context.Background(), input)
		if !resilience.IsRateLimit(err) {
			t.Fatalf("call %d: expected rate limit error, got %v", i, err)
		}
		if errorsx.Reason(err) != errorsx.ReasonRateLimited {
			t.Fatalf("call %d: reason = %s", i, errorsx.Reason(err))
		}
	}

	// breaker is open now: the next call fails without hitting the API
	if !a.breaker.Allow() {
		_, err := a.Generate(context.Background(), input)
		if !resilience.IsRateLimit(err) {
			t.Fatalf("expected fast rate limit failure, got %v", err)
		}
	} else {
		t.Fatal("breaker should be open after three rate limits")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errorsx.Reason(err) != errorsx.ReasonNotConfigured {
		t.Fatalf("reason = %s", errorsx.Reason(err))
	}
}
