// Package engine drives the bounded tool-calling loop: it builds the
// message history for one user turn, lets the model request business
// actions one at a time, and always comes back with a reply text.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/i18n"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/redact"
	"github.com/billowhq/billow/pkg/resilience"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/tools"
)

type Config struct {
	// MaxIterations bounds completion calls per user turn. The cap is
	// the circuit breaker against cyclic tool use.
	MaxIterations int
	// HistoryLimit and HistoryWindow bound the recent-history slice
	// included in each completion request.
	HistoryLimit  int
	HistoryWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 15
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 2 * time.Hour
	}
	return c
}

// Turn is one inbound user turn. RecordID identifies the already
// persisted inbound row so the history window can exclude it.
type Turn struct {
	Text     string
	Language string
	RecordID string
}

type Engine struct {
	ds       store.DataStore
	adapter  llm.CompletionAdapter
	executor *tools.Executor
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(ds store.DataStore, adapter llm.CompletionAdapter, executor *tools.Executor, cfg Config) *Engine {
	return &Engine{
		ds:       ds,
		adapter:  adapter,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   logging.NewComponentLogger(slog.Default(), "engine"),
		now:      time.Now,
	}
}

// Respond produces the reply for one user turn. It never fails: every
// error is converted to a short localized message.
func (e *Engine) Respond(ctx context.Context, ident *store.Identity, turn Turn) string {
	reply, err := e.respond(ctx, ident, turn)
	if err == nil {
		return reply
	}
	reason := errorsx.Reason(err)
	e.logger.Error("engine_error",
		"identity_id", ident.ID,
		"reason_code", string(reason),
		"error", redact.Text(err.Error()),
	)
	switch {
	case reason == errorsx.ReasonNotConfigured:
		return i18n.Reply(ident.Language, i18n.KeyNotConfigured)
	case reason == errorsx.ReasonRateLimited, resilience.IsRateLimit(err):
		return i18n.Reply(ident.Language, i18n.KeyRateLimited)
	}
	return i18n.Reply(ident.Language, i18n.KeyGenericError)
}

func (e *Engine) respond(ctx context.Context, ident *store.Identity, turn Turn) (string, error) {
	e.updateLanguagePreference(ctx, ident, turn.Language)

	history, err := e.buildHistory(ctx, ident, turn)
	if err != nil {
		return "", err
	}

	for i := 0; i < e.cfg.MaxIterations; i++ {
		started := e.now()
		resp, genErr := e.adapter.Generate(ctx, llm.Context{Messages: history, Tools: e.executor.Catalog()})
		duration := e.now().Sub(started)

		e.logTurn(ctx, ident, history, resp, genErr, duration)
		if genErr != nil {
			return "", genErr
		}

		if len(resp.ToolCalls) > 0 {
			// single-tool-per-turn: only the first requested call runs,
			// keeping the history linear and side effects auditable
			call := resp.ToolCalls[0]
			history = appendToolExchange(history, call, e.runTool(ctx, ident, call))
			continue
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			text = i18n.Reply(ident.Language, i18n.KeyGenericError)
		}
		return text, nil
	}

	e.logger.Warn("engine_iteration_budget_exhausted", "identity_id", ident.ID, "max_iterations", e.cfg.MaxIterations)
	return i18n.Reply(ident.Language, i18n.KeyTooComplex), nil
}

func (e *Engine) updateLanguagePreference(ctx context.Context, ident *store.Identity, detected string) {
	detected = strings.ToLower(strings.TrimSpace(detected))
	if detected == "" || !i18n.Supported(detected) || detected == ident.Language {
		return
	}
	ident.Language = detected
	if err := e.ds.UpdateIdentity(ctx, ident); err != nil {
		e.logger.Warn("language_preference_update_error", "identity_id", ident.ID, "error", err)
	}
}

func (e *Engine) buildHistory(ctx context.Context, ident *store.Identity, turn Turn) ([]map[string]any, error) {
	history := []map[string]any{
		{"role": "system", "content": systemPrompt(ident)},
	}

	since := e.now().Add(-e.cfg.HistoryWindow)
	recent, err := e.ds.RecentMessages(ctx, ident.ID, e.cfg.HistoryLimit, since)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStore)
	}
	for _, m := range recent {
		if m.ID == turn.RecordID {
			continue
		}
		content := strings.TrimSpace(m.EffectiveContent())
		if content == "" {
			// unfinished transcriptions and media placeholders carry
			// nothing the model can use
			continue
		}
		role := "user"
		if m.Direction == store.DirectionOutbound {
			role = "assistant"
		}
		history = append(history, map[string]any{"role": role, "content": content})
	}

	history = append(history, map[string]any{"role": "user", "content": turn.Text})
	return history, nil
}

func (e *Engine) runTool(ctx context.Context, ident *store.Identity, call llm.ToolCall) tools.Result {
	var rawArgs any = call.Arguments
	if call.RawArguments != "" {
		rawArgs = call.RawArguments
	}
	return e.executor.Execute(ctx, ident, call.Name, rawArgs)
}

func appendToolExchange(history []map[string]any, call llm.ToolCall, result tools.Result) []map[string]any {
	history = append(history, map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{
			{
				"id":   call.ID,
				"type": "function",
				"function": map[string]any{
					"name":      call.Name,
					"arguments": call.RawArguments,
				},
			},
		},
	})
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"success":false,"error":"unserializable tool result"}`)
	}
	return append(history, map[string]any{
		"role":         "tool",
		"tool_call_id": call.ID,
		"content":      string(payload),
	})
}

// logTurn records one completion call. Log failures are swallowed:
// observability must never break the user-visible reply.
func (e *Engine) logTurn(ctx context.Context, ident *store.Identity, history []map[string]any, resp llm.Response, genErr error, duration time.Duration) {
	turn := &store.ConversationTurn{
		IdentityID:       ident.ID,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		DurationMS:       duration.Milliseconds(),
		Model:            resp.Model,
	}
	if turn.Model == "" {
		turn.Model = e.adapter.Name()
	}
	if request, err := json.Marshal(history); err == nil {
		turn.Request = request
	}
	if len(resp.Raw) > 0 {
		turn.Response = resp.Raw
	} else if response, err := json.Marshal(resp); err == nil {
		turn.Response = response
	}
	if len(resp.ToolCalls) > 0 {
		turn.ToolName = resp.ToolCalls[0].Name
		if args, err := json.Marshal(resp.ToolCalls[0].Arguments); err == nil {
			turn.ToolArguments = args
		}
	}
	if genErr != nil {
		turn.Error = genErr.Error()
	}
	if err := e.ds.CreateConversationTurn(ctx, turn); err != nil {
		e.logger.Warn("conversation_turn_log_error", "identity_id", ident.ID, "error", err)
	}
}
