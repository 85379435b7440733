package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production DataStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id UUID PRIMARY KEY,
		address TEXT UNIQUE NOT NULL,
		business_name TEXT NOT NULL DEFAULT '',
		registration_id TEXT NOT NULL DEFAULT '',
		business_address TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'fr',
		tools_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		identity_id UUID NOT NULL REFERENCES identities(id),
		provider_message_id TEXT UNIQUE,
		chat_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		attachment_id TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		transcript_language TEXT NOT NULL DEFAULT '',
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		last_error TEXT NOT NULL DEFAULT '',
		raw_payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id UUID PRIMARY KEY,
		identity_id UUID NOT NULL,
		request JSONB,
		response JSONB,
		tool_name TEXT NOT NULL DEFAULT '',
		tool_arguments JSONB,
		prompt_tokens INT NOT NULL DEFAULT 0,
		completion_tokens INT NOT NULL DEFAULT 0,
		total_tokens INT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS clients (
		id UUID PRIMARY KEY,
		identity_id UUID NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS quotes (
		id UUID PRIMARY KEY,
		identity_id UUID NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'EUR',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id UUID PRIMARY KEY,
		identity_id UUID NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'EUR',
		status TEXT NOT NULL DEFAULT 'due',
		due_date TIMESTAMPTZ,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_identity_created ON messages(identity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_identity ON conversation_turns(identity_id);
	CREATE INDEX IF NOT EXISTS idx_clients_identity ON clients(identity_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_identity_status ON invoices(identity_id, status);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const pgMessageCols = `id, identity_id, provider_message_id, chat_id, direction, kind, body,
	attachment_id, transcript, transcript_language, processed, last_error, raw_payload, created_at, updated_at`

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+pgMessageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, m.ID, m.IdentityID, nullIfEmpty(m.ProviderMessageID), m.ChatID, string(m.Direction), string(m.Kind), m.Body,
		m.AttachmentID, m.Transcript, m.TranscriptLanguage, m.Processed, m.LastError, []byte(m.RawPayload), m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var providerID sql.NullString
	var direction, kind string
	var raw []byte
	err := row.Scan(&m.ID, &m.IdentityID, &providerID, &m.ChatID, &direction, &kind, &m.Body,
		&m.AttachmentID, &m.Transcript, &m.TranscriptLanguage, &m.Processed, &m.LastError, &raw, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ProviderMessageID = providerID.String
	m.Direction = Direction(direction)
	m.Kind = ContentKind(kind)
	m.RawPayload = raw
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.scanMessage(s.pool.QueryRow(ctx, `SELECT `+pgMessageCols+` FROM messages WHERE id = $1`, id))
}

func (s *PostgresStore) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	return s.scanMessage(s.pool.QueryRow(ctx, `SELECT `+pgMessageCols+` FROM messages WHERE provider_message_id = $1`, providerID))
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, m *Message) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET transcript = $1, transcript_language = $2, processed = $3, last_error = $4, updated_at = $5
		WHERE id = $6
	`, m.Transcript, m.TranscriptLanguage, m.Processed, m.LastError, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, identityID string, limit int, since time.Time) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageCols+` FROM messages
		WHERE identity_id = $1 AND created_at > $2
		ORDER BY created_at DESC LIMIT $3
	`, identityID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m := &Message{}
		var providerID sql.NullString
		var direction, kind string
		var raw []byte
		if err := rows.Scan(&m.ID, &m.IdentityID, &providerID, &m.ChatID, &direction, &kind, &m.Body,
			&m.AttachmentID, &m.Transcript, &m.TranscriptLanguage, &m.Processed, &m.LastError, &raw, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.ProviderMessageID = providerID.String
		m.Direction = Direction(direction)
		m.Kind = ContentKind(kind)
		m.RawPayload = raw
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

const pgIdentityCols = `id, address, business_name, registration_id, business_address, language, tools_enabled, last_active_at, created_at`

func (s *PostgresStore) scanIdentity(row pgx.Row) (*Identity, error) {
	ident := &Identity{}
	err := row.Scan(&ident.ID, &ident.Address, &ident.BusinessName, &ident.RegistrationID,
		&ident.BusinessAddress, &ident.Language, &ident.ToolsEnabled, &ident.LastActiveAt, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (s *PostgresStore) GetIdentityByAddress(ctx context.Context, address string) (*Identity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx, `SELECT `+pgIdentityCols+` FROM identities WHERE address = $1`, address))
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx, `SELECT `+pgIdentityCols+` FROM identities WHERE id = $1`, id))
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, ident *Identity) error {
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	if ident.LastActiveAt.IsZero() {
		ident.LastActiveAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (`+pgIdentityCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ident.ID, ident.Address, ident.BusinessName, ident.RegistrationID, ident.BusinessAddress,
		ident.Language, ident.ToolsEnabled, ident.LastActiveAt, ident.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, ident *Identity) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET business_name = $1, registration_id = $2, business_address = $3,
			language = $4, tools_enabled = $5, last_active_at = $6
		WHERE id = $7
	`, ident.BusinessName, ident.RegistrationID, ident.BusinessAddress, ident.Language,
		ident.ToolsEnabled, ident.LastActiveAt, ident.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateConversationTurn(ctx context.Context, turn *ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_turns (id, identity_id, request, response, tool_name, tool_arguments,
			prompt_tokens, completion_tokens, total_tokens, duration_ms, model, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, turn.ID, turn.IdentityID, []byte(turn.Request), []byte(turn.Response), turn.ToolName, []byte(turn.ToolArguments),
		turn.PromptTokens, turn.CompletionTokens, turn.TotalTokens, turn.DurationMS, turn.Model, turn.Error, turn.CreatedAt)
	return err
}

func (s *PostgresStore) CreateClient(ctx context.Context, c *Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, identity_id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.IdentityID, c.Name, c.Email, c.Phone, c.CreatedAt)
	return err
}

func (s *PostgresStore) SearchClients(ctx context.Context, identityID, query string) ([]*Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, name, email, phone, created_at FROM clients
		WHERE identity_id = $1 AND (name ILIKE $2 OR email ILIKE $2)
		ORDER BY name
	`, identityID, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Client
	for rows.Next() {
		c := &Client{}
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateQuote(ctx context.Context, q *Quote) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quotes (id, identity_id, client_id, number, description, amount_cents, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, q.ID, q.IdentityID, q.ClientID, q.Number, q.Description, q.AmountCents, q.Currency, string(q.Status), q.CreatedAt)
	return err
}

func (s *PostgresStore) GetQuoteByNumber(ctx context.Context, identityID, number string) (*Quote, error) {
	q := &Quote{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, identity_id, client_id, number, description, amount_cents, currency, status, created_at
		FROM quotes WHERE identity_id = $1 AND number = $2
	`, identityID, number).Scan(&q.ID, &q.IdentityID, &q.ClientID, &q.Number, &q.Description, &q.AmountCents, &q.Currency, &status, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.Status = QuoteStatus(status)
	return q, nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context, identityID string, limit int) ([]*Quote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, client_id, number, description, amount_cents, currency, status, created_at
		FROM quotes WHERE identity_id = $1 ORDER BY created_at DESC LIMIT $2
	`, identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Quote
	for rows.Next() {
		q := &Quote{}
		var status string
		if err := rows.Scan(&q.ID, &q.IdentityID, &q.ClientID, &q.Number, &q.Description, &q.AmountCents, &q.Currency, &status, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Status = QuoteStatus(status)
		out = append(out, q)
	}
	return out, rows.Err()
}

const pgInvoiceCols = `id, identity_id, client_id, number, description, amount_cents, currency, status, due_date, paid_at, created_at`

func (s *PostgresStore) scanInvoice(row pgx.Row) (*Invoice, error) {
	inv := &Invoice{}
	var status string
	var dueDate, paidAt *time.Time
	err := row.Scan(&inv.ID, &inv.IdentityID, &inv.ClientID, &inv.Number, &inv.Description,
		&inv.AmountCents, &inv.Currency, &status, &dueDate, &paidAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	if dueDate != nil {
		inv.DueDate = *dueDate
	}
	if paidAt != nil {
		inv.PaidAt = *paidAt
	}
	return inv, nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (`+pgInvoiceCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inv.ID, inv.IdentityID, inv.ClientID, inv.Number, inv.Description, inv.AmountCents,
		inv.Currency, string(inv.Status), nullableTime(inv.DueDate), nullableTime(inv.PaidAt), inv.CreatedAt)
	return err
}

func (s *PostgresStore) GetInvoiceByNumber(ctx context.Context, identityID, number string) (*Invoice, error) {
	return s.scanInvoice(s.pool.QueryRow(ctx, `
		SELECT `+pgInvoiceCols+` FROM invoices WHERE identity_id = $1 AND number = $2
	`, identityID, number))
}

func (s *PostgresStore) MarkInvoicePaid(ctx context.Context, identityID, number string) (*Invoice, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = $1 WHERE identity_id = $2 AND number = $3
	`, time.Now().UTC(), identityID, number)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetInvoiceByNumber(ctx, identityID, number)
}

func (s *PostgresStore) ListUnpaidInvoices(ctx context.Context, identityID string) ([]*Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgInvoiceCols+` FROM invoices
		WHERE identity_id = $1 AND status != 'paid' ORDER BY due_date
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		inv, err := s.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
