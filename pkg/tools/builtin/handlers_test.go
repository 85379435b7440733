package builtin

import (
	"context"
	"testing"

	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/tools"
)

func testSetup(t *testing.T) (*tools.Executor, *store.Identity, *store.MemoryStore) {
	t.Helper()
	ds := store.NewMemoryStore()
	ident := &store.Identity{Address: "+33612345678", ToolsEnabled: true, Language: "fr"}
	if err := ds.CreateIdentity(context.Background(), ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	e, err := tools.NewExecutor(tools.Catalog(), Handlers(ds))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return e, ident, ds
}

func TestCatalogHandlersBijection(t *testing.T) {
	if _, err := tools.NewExecutor(tools.Catalog(), Handlers(store.NewMemoryStore())); err != nil {
		t.Fatalf("catalog and handlers out of sync: %v", err)
	}
}

func TestCreateAndSearchClient(t *testing.T) {
	e, ident, _ := testSetup(t)
	ctx := context.Background()
	r := e.Execute(ctx, ident, "create_client", map[string]any{"name": "Marie Dupont", "email": "marie@example.fr"})
	if !r.Success {
		t.Fatalf("create_client failed: %+v", r)
	}
	r = e.Execute(ctx, ident, "search_clients", `{"query":"Dupont"}`)
	if !r.Success {
		t.Fatalf("search_clients failed: %+v", r)
	}
	data := r.Data.(map[string]any)
	if data["count"] != 1 {
		t.Fatalf("expected one match, got %v", data)
	}
}

func TestSideEffectingToolRequiresCapability(t *testing.T) {
	e, ident, _ := testSetup(t)
	ident.ToolsEnabled = false
	r := e.Execute(context.Background(), ident, "create_client", map[string]any{"name": "X"})
	if r.Success {
		t.Fatal("expected capability rejection")
	}
}

func TestSearchWorksWithoutCapability(t *testing.T) {
	e, ident, _ := testSetup(t)
	ident.ToolsEnabled = false
	r := e.Execute(context.Background(), ident, "search_clients", map[string]any{"query": "x"})
	if !r.Success {
		t.Fatalf("read-only tool should not need the capability: %+v", r)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	e, ident, _ := testSetup(t)
	r := e.Execute(context.Background(), ident, "create_invoice", map[string]any{"client_id": "c1", "amount_cents": -5})
	if r.Success || r.Field != "amount_cents" {
		t.Fatalf("expected amount_cents field error, got %+v", r)
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	e, ident, _ := testSetup(t)
	ctx := context.Background()
	r := e.Execute(ctx, ident, "create_invoice", map[string]any{"client_id": "c1", "amount_cents": 15000, "due_date": "2026-09-30"})
	if !r.Success {
		t.Fatalf("create_invoice failed: %+v", r)
	}
	number := r.Data.(map[string]any)["invoice_number"].(string)

	r = e.Execute(ctx, ident, "list_unpaid_invoices", nil)
	if !r.Success || r.Data.(map[string]any)["count"] != 1 {
		t.Fatalf("expected one unpaid invoice, got %+v", r)
	}

	r = e.Execute(ctx, ident, "mark_invoice_paid", map[string]any{"number": number})
	if !r.Success {
		t.Fatalf("mark_invoice_paid failed: %+v", r)
	}

	r = e.Execute(ctx, ident, "list_unpaid_invoices", nil)
	if !r.Success || r.Data.(map[string]any)["count"] != 0 {
		t.Fatalf("expected no unpaid invoices, got %+v", r)
	}
}
