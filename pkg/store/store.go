package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated,
	// notably the provider message id.
	ErrDuplicate = errors.New("duplicate")
)

// DataStore is the persistence boundary of the pipeline. Postgres backs
// production, SQLite small deployments, Memory the tests.
type DataStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	// RecentMessages returns at most limit messages for the identity
	// created after since, oldest first.
	RecentMessages(ctx context.Context, identityID string, limit int, since time.Time) ([]*Message, error)

	GetIdentityByAddress(ctx context.Context, address string) (*Identity, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	CreateIdentity(ctx context.Context, ident *Identity) error
	UpdateIdentity(ctx context.Context, ident *Identity) error

	CreateConversationTurn(ctx context.Context, turn *ConversationTurn) error

	CreateClient(ctx context.Context, c *Client) error
	SearchClients(ctx context.Context, identityID, query string) ([]*Client, error)
	CreateQuote(ctx context.Context, q *Quote) error
	GetQuoteByNumber(ctx context.Context, identityID, number string) (*Quote, error)
	ListQuotes(ctx context.Context, identityID string, limit int) ([]*Quote, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByNumber(ctx context.Context, identityID, number string) (*Invoice, error)
	MarkInvoicePaid(ctx context.Context, identityID, number string) (*Invoice, error)
	ListUnpaidInvoices(ctx context.Context, identityID string) ([]*Invoice, error)

	Close() error
}
