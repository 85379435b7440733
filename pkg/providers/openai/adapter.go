package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/resilience"
)

type Adapter struct {
	model   string
	http    *resty.Client
	breaker *resilience.CircuitBreaker
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("openai: api_key is required"), errorsx.ReasonNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	return &Adapter{
		model:   cfg.Model,
		http:    httpClient,
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	if !a.breaker.Allow() {
		metrics.CompletionCalls.WithLabelValues(a.model, "rate_limited").Inc()
		return llm.Response{}, errorsx.Wrap(
			resilience.RateLimitError{Provider: "openai", Message: "circuit open after repeated rate limits"},
			errorsx.ReasonRateLimited,
		)
	}
	req := map[string]any{
		"model":    a.model,
		"messages": input.Messages,
	}
	if len(input.Tools) > 0 {
		req["tools"] = mapTools(input.Tools)
		req["tool_choice"] = "auto"
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/chat/completions")
	if err != nil {
		metrics.CompletionCalls.WithLabelValues(a.model, "error").Inc()
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		metrics.CompletionCalls.WithLabelValues(a.model, "rate_limited").Inc()
		rlErr := errorsx.Wrap(
			resilience.RateLimitError{Provider: "openai", Message: string(resp.Body())},
			errorsx.ReasonRateLimited,
		)
		a.breaker.OnError(rlErr)
		return llm.Response{}, rlErr
	}
	if resp.IsError() {
		metrics.CompletionCalls.WithLabelValues(a.model, "error").Inc()
		return llm.Response{}, errorsx.Wrap(errors.New(string(resp.Body())), errorsx.ReasonLLMGenerate)
	}
	out, err := parseResponse(resp.Body())
	if err != nil {
		metrics.CompletionCalls.WithLabelValues(a.model, "error").Inc()
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	a.breaker.OnSuccess()
	metrics.CompletionCalls.WithLabelValues(a.model, "ok").Inc()
	metrics.CompletionTokens.Add(float64(out.Usage.TotalTokens))
	return out, nil
}

func mapTools(tools []llm.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}
	return out
}

func parseResponse(raw []byte) (llm.Response, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return llm.Response{}, err
	}
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return llm.Response{}, errors.New("openai: no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	resp := llm.Response{Text: content, Raw: raw}
	if reason, _ := first["finish_reason"].(string); reason != "" {
		resp.FinishReason = reason
	}
	if model, _ := payload["model"].(string); model != "" {
		resp.Model = model
	}
	if usage, ok := payload["usage"].(map[string]any); ok {
		resp.Usage = llm.Usage{
			PromptTokens:     intValue(usage["prompt_tokens"]),
			CompletionTokens: intValue(usage["completion_tokens"]),
			TotalTokens:      intValue(usage["total_tokens"]),
		}
	}
	if tc, ok := msg["tool_calls"].([]any); ok {
		for _, item := range tc {
			call, _ := item.(map[string]any)
			fn, _ := call["function"].(map[string]any)
			argsRaw, _ := fn["arguments"].(string)
			args := map[string]any{}
			_ = json.Unmarshal([]byte(argsRaw), &args)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:           stringValue(call["id"]),
				Name:         stringValue(fn["name"]),
				Arguments:    args,
				RawArguments: argsRaw,
			})
		}
	}
	return resp, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}
