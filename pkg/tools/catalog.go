package tools

import "github.com/billowhq/billow/pkg/llm"

// Catalog is the static list of callable business actions, consumed by
// the completion adapter to constrain its output. Adding a tool means
// one entry here plus one handler registration; nothing else changes.
func Catalog() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "create_client",
			Description: "Crée un nouveau client dans le carnet d'adresses de l'entreprise.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string", "description": "Nom complet ou raison sociale"},
					"email": map[string]any{"type": "string"},
					"phone": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "search_clients",
			Description: "Recherche des clients par nom ou email.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Fragment de nom ou d'email"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "create_quote",
			Description: "Crée un devis pour un client existant.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"client_id":    map[string]any{"type": "string"},
					"description":  map[string]any{"type": "string"},
					"amount_cents": map[string]any{"type": "integer", "description": "Montant total en centimes"},
					"currency":     map[string]any{"type": "string", "default": "EUR"},
				},
				"required": []string{"client_id", "amount_cents"},
			},
		},
		{
			Name:        "get_quote",
			Description: "Retrouve un devis par son numéro.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"number": map[string]any{"type": "string"},
				},
				"required": []string{"number"},
			},
		},
		{
			Name:        "list_quotes",
			Description: "Liste les devis les plus récents.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer", "default": 10},
				},
			},
		},
		{
			Name:        "create_invoice",
			Description: "Crée une facture pour un client existant.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"client_id":    map[string]any{"type": "string"},
					"description":  map[string]any{"type": "string"},
					"amount_cents": map[string]any{"type": "integer"},
					"currency":     map[string]any{"type": "string", "default": "EUR"},
					"due_date":     map[string]any{"type": "string", "description": "Date d'échéance ISO-8601"},
				},
				"required": []string{"client_id", "amount_cents"},
			},
		},
		{
			Name:        "mark_invoice_paid",
			Description: "Marque une facture comme payée.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"number": map[string]any{"type": "string"},
				},
				"required": []string{"number"},
			},
		},
		{
			Name:        "list_unpaid_invoices",
			Description: "Liste les factures impayées, triées par échéance.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
