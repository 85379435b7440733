package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory DataStore for tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[string]*Message
	byProvider map[string]string
	identities map[string]*Identity
	byAddress  map[string]string
	turns      []*ConversationTurn
	clients    map[string]*Client
	quotes     map[string]*Quote
	invoices   map[string]*Invoice
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[string]*Message),
		byProvider: make(map[string]string),
		identities: make(map[string]*Identity),
		byAddress:  make(map[string]string),
		clients:    make(map[string]*Client),
		quotes:     make(map[string]*Quote),
		invoices:   make(map[string]*Invoice),
	}
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ProviderMessageID != "" {
		if _, ok := s.byProvider[m.ProviderMessageID]; ok {
			return ErrDuplicate
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	cp := *m
	s.messages[m.ID] = &cp
	if m.ProviderMessageID != "" {
		s.byProvider[m.ProviderMessageID] = m.ID
	}
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.messages[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return ErrNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, identityID string, limit int, since time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if m.IdentityID == identityID && m.CreatedAt.After(since) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) GetIdentityByAddress(ctx context.Context, address string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAddress[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.identities[id]
	return &cp, nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *MemoryStore) CreateIdentity(ctx context.Context, ident *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAddress[ident.Address]; ok {
		return ErrDuplicate
	}
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	cp := *ident
	s.identities[ident.ID] = &cp
	s.byAddress[ident.Address] = ident.ID
	return nil
}

func (s *MemoryStore) UpdateIdentity(ctx context.Context, ident *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[ident.ID]; !ok {
		return ErrNotFound
	}
	cp := *ident
	s.identities[ident.ID] = &cp
	s.byAddress[ident.Address] = ident.ID
	return nil
}

func (s *MemoryStore) CreateConversationTurn(ctx context.Context, turn *ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	cp := *turn
	s.turns = append(s.turns, &cp)
	return nil
}

// Turns exposes recorded conversation turns to tests.
func (s *MemoryStore) Turns() []*ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *MemoryStore) CreateClient(ctx context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.clients[c.ID] = &cp
	return nil
}

func (s *MemoryStore) SearchClients(ctx context.Context, identityID, query string) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []*Client
	for _, c := range s.clients {
		if c.IdentityID != identityID {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Email), q) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateQuote(ctx context.Context, q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	cp := *q
	s.quotes[q.ID] = &cp
	return nil
}

func (s *MemoryStore) GetQuoteByNumber(ctx context.Context, identityID, number string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quotes {
		if q.IdentityID == identityID && q.Number == number {
			cp := *q
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListQuotes(ctx context.Context, identityID string, limit int) ([]*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Quote
	for _, q := range s.quotes {
		if q.IdentityID == identityID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInvoiceByNumber(ctx context.Context, identityID, number string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.IdentityID == identityID && inv.Number == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkInvoicePaid(ctx context.Context, identityID, number string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.IdentityID == identityID && inv.Number == number {
			inv.Status = InvoicePaid
			inv.PaidAt = time.Now().UTC()
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUnpaidInvoices(ctx context.Context, identityID string) ([]*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Invoice
	for _, inv := range s.invoices {
		if inv.IdentityID == identityID && inv.Status != InvoicePaid {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
