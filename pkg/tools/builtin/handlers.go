// Package builtin holds the business handlers behind the tool catalog:
// thin CRUD against the data store. Their errors are domain errors,
// surfaced to the model as structured tool results.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/configutil"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/tools"
)

var errToolsDisabled = errors.New("cette action n'est pas activée pour ce compte")

// Handlers returns the registry matching tools.Catalog one-to-one.
func Handlers(ds store.DataStore) map[string]tools.Handler {
	h := &handlerSet{ds: ds}
	return map[string]tools.Handler{
		"create_client":        h.createClient,
		"search_clients":       h.searchClients,
		"create_quote":         h.createQuote,
		"get_quote":            h.getQuote,
		"list_quotes":          h.listQuotes,
		"create_invoice":       h.createInvoice,
		"mark_invoice_paid":    h.markInvoicePaid,
		"list_unpaid_invoices": h.listUnpaidInvoices,
	}
}

type handlerSet struct {
	ds store.DataStore
}

func requireSideEffects(ident *store.Identity) error {
	if ident == nil || !ident.ToolsEnabled {
		return errToolsDisabled
	}
	return nil
}

func (h *handlerSet) createClient(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	if err := requireSideEffects(ident); err != nil {
		return nil, err
	}
	var params struct {
		Name  string `mapstructure:"name"`
		Email string `mapstructure:"email"`
		Phone string `mapstructure:"phone"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, tools.FieldError{Field: "name", Message: "le nom du client est requis"}
	}
	c := &store.Client{
		IdentityID: ident.ID,
		Name:       strings.TrimSpace(params.Name),
		Email:      strings.TrimSpace(params.Email),
		Phone:      strings.TrimSpace(params.Phone),
	}
	if err := h.ds.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	return map[string]any{"client_id": c.ID, "name": c.Name}, nil
}

func (h *handlerSet) searchClients(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	var params struct {
		Query string `mapstructure:"query"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	clients, err := h.ds.SearchClients(ctx, ident.ID, strings.TrimSpace(params.Query))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, map[string]any{"client_id": c.ID, "name": c.Name, "email": c.Email, "phone": c.Phone})
	}
	return map[string]any{"clients": out, "count": len(out)}, nil
}

func (h *handlerSet) createQuote(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	if err := requireSideEffects(ident); err != nil {
		return nil, err
	}
	var params struct {
		ClientID    string `mapstructure:"client_id"`
		Description string `mapstructure:"description"`
		AmountCents int64  `mapstructure:"amount_cents"`
		Currency    string `mapstructure:"currency"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	if params.ClientID == "" {
		return nil, tools.FieldError{Field: "client_id", Message: "client requis"}
	}
	if params.AmountCents <= 0 {
		return nil, tools.FieldError{Field: "amount_cents", Message: "le montant doit être positif"}
	}
	if params.Currency == "" {
		params.Currency = "EUR"
	}
	q := &store.Quote{
		IdentityID:  ident.ID,
		ClientID:    params.ClientID,
		Number:      nextNumber("D", time.Now()),
		Description: params.Description,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Status:      store.QuoteDraft,
	}
	if err := h.ds.CreateQuote(ctx, q); err != nil {
		return nil, err
	}
	return map[string]any{"quote_number": q.Number, "amount_cents": q.AmountCents, "currency": q.Currency}, nil
}

func (h *handlerSet) getQuote(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	var params struct {
		Number string `mapstructure:"number"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	q, err := h.ds.GetQuoteByNumber(ctx, ident.ID, strings.TrimSpace(params.Number))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("devis %s introuvable", params.Number)
	}
	if err != nil {
		return nil, err
	}
	return quotePayload(q), nil
}

func (h *handlerSet) listQuotes(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	var params struct {
		Limit int `mapstructure:"limit"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 || params.Limit > 50 {
		params.Limit = 10
	}
	quotes, err := h.ds.ListQuotes(ctx, ident.ID, params.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, quotePayload(q))
	}
	return map[string]any{"quotes": out, "count": len(out)}, nil
}

func (h *handlerSet) createInvoice(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	if err := requireSideEffects(ident); err != nil {
		return nil, err
	}
	var params struct {
		ClientID    string `mapstructure:"client_id"`
		Description string `mapstructure:"description"`
		AmountCents int64  `mapstructure:"amount_cents"`
		Currency    string `mapstructure:"currency"`
		DueDate     string `mapstructure:"due_date"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	if params.ClientID == "" {
		return nil, tools.FieldError{Field: "client_id", Message: "client requis"}
	}
	if params.AmountCents <= 0 {
		return nil, tools.FieldError{Field: "amount_cents", Message: "le montant doit être positif"}
	}
	if params.Currency == "" {
		params.Currency = "EUR"
	}
	dueDate := time.Now().AddDate(0, 0, 30)
	if params.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", params.DueDate)
		if err != nil {
			return nil, tools.FieldError{Field: "due_date", Message: "format de date attendu: AAAA-MM-JJ"}
		}
		dueDate = parsed
	}
	inv := &store.Invoice{
		IdentityID:  ident.ID,
		ClientID:    params.ClientID,
		Number:      nextNumber("F", time.Now()),
		Description: params.Description,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Status:      store.InvoiceDue,
		DueDate:     dueDate,
	}
	if err := h.ds.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return map[string]any{"invoice_number": inv.Number, "amount_cents": inv.AmountCents, "due_date": inv.DueDate.Format("2006-01-02")}, nil
}

func (h *handlerSet) markInvoicePaid(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	if err := requireSideEffects(ident); err != nil {
		return nil, err
	}
	var params struct {
		Number string `mapstructure:"number"`
	}
	if err := configutil.DecodeSettings(args, &params); err != nil {
		return nil, err
	}
	inv, err := h.ds.MarkInvoicePaid(ctx, ident.ID, strings.TrimSpace(params.Number))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("facture %s introuvable", params.Number)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"invoice_number": inv.Number, "status": string(inv.Status)}, nil
}

func (h *handlerSet) listUnpaidInvoices(ctx context.Context, ident *store.Identity, args map[string]any) (any, error) {
	invoices, err := h.ds.ListUnpaidInvoices(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, map[string]any{
			"invoice_number": inv.Number,
			"amount_cents":   inv.AmountCents,
			"currency":       inv.Currency,
			"due_date":       inv.DueDate.Format("2006-01-02"),
		})
	}
	return map[string]any{"invoices": out, "count": len(out)}, nil
}

func quotePayload(q *store.Quote) map[string]any {
	return map[string]any{
		"quote_number": q.Number,
		"description":  q.Description,
		"amount_cents": q.AmountCents,
		"currency":     q.Currency,
		"status":       string(q.Status),
	}
}

func nextNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, now.Format("20060102-150405.000"))
}
