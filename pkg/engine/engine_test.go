package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/i18n"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/providers/mock"
	"github.com/billowhq/billow/pkg/resilience"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/tools"
	"github.com/billowhq/billow/pkg/tools/builtin"
)

func testIdentity(t *testing.T, ds store.DataStore) *store.Identity {
	t.Helper()
	ident := &store.Identity{
		Address:      "33612345678",
		BusinessName: "Plomberie Dupont",
		Language:     "fr",
		ToolsEnabled: true,
	}
	if err := ds.CreateIdentity(context.Background(), ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return ident
}

func testEngine(t *testing.T, ds store.DataStore, adapter llm.CompletionAdapter) *Engine {
	t.Helper()
	executor, err := tools.NewExecutor(tools.Catalog(), builtin.Handlers(ds))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return New(ds, adapter, executor, Config{})
}

func TestRespondPlainText(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(llm.Response{Text: "Bonjour, comment puis-je aider ?"})

	reply := testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "Bonjour"})
	if reply != "Bonjour, comment puis-je aider ?" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("expected 1 completion call, got %d", adapter.Calls())
	}

	reqs := adapter.Requests()
	msgs := reqs[0].Messages
	if msgs[0]["role"] != "system" {
		t.Fatalf("first message role = %v", msgs[0]["role"])
	}
	if !strings.Contains(msgs[0]["content"].(string), "Plomberie Dupont") {
		t.Fatal("system prompt missing business name")
	}
	if last := msgs[len(msgs)-1]; last["role"] != "user" || last["content"] != "Bonjour" {
		t.Fatalf("unexpected final message: %v", last)
	}
	if len(reqs[0].Tools) == 0 {
		t.Fatal("expected tool catalog in request")
	}
}

func TestRespondExecutesToolThenAnswers(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(
		llm.Response{ToolCalls: []llm.ToolCall{{
			ID:           "call_1",
			Name:         "create_client",
			Arguments:    map[string]any{"name": "Martin"},
			RawArguments: `{"name":"Martin"}`,
		}}},
		llm.Response{Text: "Client Martin créé."},
	)

	reply := testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "Ajoute le client Martin"})
	if reply != "Client Martin créé." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected 2 completion calls, got %d", adapter.Calls())
	}

	clients, err := ds.SearchClients(context.Background(), ident.ID, "Martin")
	if err != nil || len(clients) != 1 {
		t.Fatalf("expected client persisted, got %d (%v)", len(clients), err)
	}

	// second request carries the assistant tool call and the tool result
	msgs := adapter.Requests()[1].Messages
	assistant := msgs[len(msgs)-2]
	if assistant["role"] != "assistant" {
		t.Fatalf("expected assistant tool-call entry, got %v", assistant["role"])
	}
	result := msgs[len(msgs)-1]
	if result["role"] != "tool" || result["tool_call_id"] != "call_1" {
		t.Fatalf("unexpected tool result entry: %v", result)
	}
	if !strings.Contains(result["content"].(string), `"success":true`) {
		t.Fatalf("tool result not marked successful: %v", result["content"])
	}
}

func TestRespondContinuesAfterToolFailure(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	// the handler rejects the empty name; the loop must carry on with
	// the failure as a tool result instead of aborting the turn
	adapter := mock.NewLLMAdapter(
		llm.Response{ToolCalls: []llm.ToolCall{{
			ID:           "call_1",
			Name:         "create_client",
			Arguments:    map[string]any{"name": ""},
			RawArguments: `{"name":""}`,
		}}},
		llm.Response{Text: "Il me faut le nom du client pour le créer."},
	)

	reply := testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "ajoute un client"})
	if reply != "Il me faut le nom du client pour le créer." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected 2 completion calls, got %d", adapter.Calls())
	}

	msgs := adapter.Requests()[1].Messages
	result := msgs[len(msgs)-1]
	if result["role"] != "tool" || result["tool_call_id"] != "call_1" {
		t.Fatalf("unexpected tool result entry: %v", result)
	}
	content := result["content"].(string)
	if !strings.Contains(content, `"success":false`) {
		t.Fatalf("tool failure not surfaced as result: %v", content)
	}
	if !strings.Contains(content, "nom du client") {
		t.Fatalf("tool failure missing handler error: %v", content)
	}
}

func TestRespondIterationBudget(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	// a model stuck requesting the same tool forever
	adapter := mock.NewLLMAdapter(llm.Response{ToolCalls: []llm.ToolCall{{
		ID:           "call_loop",
		Name:         "list_quotes",
		RawArguments: `{}`,
	}}})

	reply := testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "fais les devis"})
	if reply != i18n.Reply("fr", i18n.KeyTooComplex) {
		t.Fatalf("expected complexity fallback, got %q", reply)
	}
	if adapter.Calls() != 5 {
		t.Fatalf("expected exactly 5 completion calls, got %d", adapter.Calls())
	}
}

func TestRespondSingleToolPerTurn(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(
		llm.Response{ToolCalls: []llm.ToolCall{
			{ID: "call_a", Name: "create_client", RawArguments: `{"name":"Durand"}`},
			{ID: "call_b", Name: "create_client", RawArguments: `{"name":"Petit"}`},
		}},
		llm.Response{Text: "fait"},
	)

	testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "ajoute Durand et Petit"})

	durand, _ := ds.SearchClients(context.Background(), ident.ID, "Durand")
	petit, _ := ds.SearchClients(context.Background(), ident.ID, "Petit")
	if len(durand) != 1 || len(petit) != 0 {
		t.Fatalf("expected only the first tool call to run, got durand=%d petit=%d", len(durand), len(petit))
	}
}

func TestHistoryWindowExcludesOldAndCurrent(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(llm.Response{Text: "ok"})
	e := testEngine(t, ds, adapter)

	now := time.Now()
	seed := func(age time.Duration, dir store.Direction, body string) *store.Message {
		m := &store.Message{
			IdentityID:        ident.ID,
			ProviderMessageID: "prov-" + body,
			ChatID:            "chat-1",
			Direction:         dir,
			Kind:              store.KindText,
			Body:              body,
			CreatedAt:         now.Add(-age),
		}
		if err := ds.CreateMessage(context.Background(), m); err != nil {
			t.Fatalf("seed message: %v", err)
		}
		return m
	}

	seed(3*time.Hour, store.DirectionInbound, "trop vieux")
	seed(30*time.Minute, store.DirectionInbound, "devis pour Martin ?")
	seed(29*time.Minute, store.DirectionOutbound, "Oui, je peux le préparer.")
	seed(10*time.Minute, store.DirectionInbound, "") // empty body, skipped
	current := seed(0, store.DirectionInbound, "vas-y")

	e.Respond(context.Background(), ident, Turn{Text: "vas-y", RecordID: current.ID})

	msgs := adapter.Requests()[0].Messages
	// system + 2 windowed + current user turn
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %v", len(msgs), msgs)
	}
	if msgs[1]["content"] != "devis pour Martin ?" || msgs[1]["role"] != "user" {
		t.Fatalf("unexpected first history entry: %v", msgs[1])
	}
	if msgs[2]["role"] != "assistant" {
		t.Fatalf("outbound message should map to assistant role: %v", msgs[2])
	}
}

func TestRespondErrorFallbacks(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want i18n.Key
	}{
		{"not_configured", errorsx.Wrap(errors.New("no key"), errorsx.ReasonNotConfigured), i18n.KeyNotConfigured},
		{"rate_limited", resilience.RateLimitError{Provider: "openai", Message: "429"}, i18n.KeyRateLimited},
		{"generic", errors.New("boom"), i18n.KeyGenericError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds := store.NewMemoryStore()
			ident := testIdentity(t, ds)
			reply := testEngine(t, ds, mock.NewLLMError(tc.err)).Respond(context.Background(), ident, Turn{Text: "salut"})
			if reply != i18n.Reply("fr", tc.want) {
				t.Fatalf("expected %s fallback, got %q", tc.name, reply)
			}
		})
	}
}

func TestRespondLogsConversationTurns(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(
		llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "list_quotes", RawArguments: `{}`}},
			Usage:     llm.Usage{PromptTokens: 100, CompletionTokens: 12, TotalTokens: 112},
			Model:     "gpt-4o-mini",
		},
		llm.Response{Text: "Aucun devis pour l'instant."},
	)

	testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "mes devis"})

	turns := ds.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turn records, got %d", len(turns))
	}
	if turns[0].ToolName != "list_quotes" {
		t.Fatalf("first turn tool = %q", turns[0].ToolName)
	}
	if turns[0].TotalTokens != 112 {
		t.Fatalf("first turn tokens = %d", turns[0].TotalTokens)
	}
	if turns[1].ToolName != "" {
		t.Fatalf("second turn should have no tool, got %q", turns[1].ToolName)
	}
}

func TestRespondUpdatesLanguagePreference(t *testing.T) {
	ds := store.NewMemoryStore()
	ident := testIdentity(t, ds)
	adapter := mock.NewLLMAdapter(llm.Response{Text: "ok"})

	testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "hello", Language: "en"})

	stored, err := ds.GetIdentity(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if stored.Language != "en" {
		t.Fatalf("language = %q, want en", stored.Language)
	}

	// unsupported detections leave the preference alone
	testEngine(t, ds, adapter).Respond(context.Background(), ident, Turn{Text: "konnichiwa", Language: "ja"})
	stored, _ = ds.GetIdentity(context.Background(), ident.ID)
	if stored.Language != "en" {
		t.Fatalf("language = %q, want en after unsupported detection", stored.Language)
	}
}
