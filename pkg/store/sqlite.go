package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore backs small single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and bootstraps) a SQLite database. An empty
// path defaults to ./data/billow.db.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/billow.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		address TEXT UNIQUE NOT NULL,
		business_name TEXT DEFAULT '',
		registration_id TEXT DEFAULT '',
		business_address TEXT DEFAULT '',
		language TEXT DEFAULT 'fr',
		tools_enabled INTEGER DEFAULT 0,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL REFERENCES identities(id),
		provider_message_id TEXT UNIQUE,
		chat_id TEXT DEFAULT '',
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT DEFAULT '',
		attachment_id TEXT DEFAULT '',
		transcript TEXT DEFAULT '',
		transcript_language TEXT DEFAULT '',
		processed INTEGER DEFAULT 0,
		last_error TEXT DEFAULT '',
		raw_payload BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		request BLOB,
		response BLOB,
		tool_name TEXT DEFAULT '',
		tool_arguments BLOB,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		model TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT DEFAULT '',
		phone TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS quotes (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		client_id TEXT DEFAULT '',
		number TEXT NOT NULL,
		description TEXT DEFAULT '',
		amount_cents INTEGER DEFAULT 0,
		currency TEXT DEFAULT 'EUR',
		status TEXT DEFAULT 'draft',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		client_id TEXT DEFAULT '',
		number TEXT NOT NULL,
		description TEXT DEFAULT '',
		amount_cents INTEGER DEFAULT 0,
		currency TEXT DEFAULT 'EUR',
		status TEXT DEFAULT 'due',
		due_date DATETIME,
		paid_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_identity_created ON messages(identity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_identity ON conversation_turns(identity_id);
	CREATE INDEX IF NOT EXISTS idx_clients_identity ON clients(identity_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_identity_status ON invoices(identity_id, status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// nullIfEmpty maps an absent provider message id to NULL so the unique
// index only constrains real ids. Some platforms omit the id, and two
// id-less messages must both be accepted.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const sqliteMessageCols = `id, identity_id, provider_message_id, chat_id, direction, kind, body,
	attachment_id, transcript, transcript_language, processed, last_error, raw_payload, created_at, updated_at`

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+sqliteMessageCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.IdentityID, nullIfEmpty(m.ProviderMessageID), m.ChatID, string(m.Direction), string(m.Kind), m.Body,
		m.AttachmentID, m.Transcript, m.TranscriptLanguage, m.Processed, m.LastError, []byte(m.RawPayload), m.CreatedAt, m.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) scanMessage(row *sql.Row) (*Message, error) {
	m := &Message{}
	var providerID sql.NullString
	var direction, kind string
	var raw []byte
	err := row.Scan(&m.ID, &m.IdentityID, &providerID, &m.ChatID, &direction, &kind, &m.Body,
		&m.AttachmentID, &m.Transcript, &m.TranscriptLanguage, &m.Processed, &m.LastError, &raw, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx, `SELECT `+sqliteMessageCols+` FROM messages WHERE id = ?`, id))
}

func (s *SQLiteStore) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx, `SELECT `+sqliteMessageCols+` FROM messages WHERE provider_message_id = ?`, providerID))
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *Message) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET transcript = ?, transcript_language = ?, processed = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, m.Transcript, m.TranscriptLanguage, m.Processed, m.LastError, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, identityID string, limit int, since time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageCols+` FROM messages
		WHERE identity_id = ? AND created_at > ?
		ORDER BY created_at DESC LIMIT ?
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
	// query is newest-first to apply the limit; callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

const sqliteIdentityCols = `id, address, business_name, registration_id, business_address, language, tools_enabled, last_active_at, created_at`

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	ident := &Identity{}
	err := row.Scan(&ident.ID, &ident.Address, &ident.BusinessName, &ident.RegistrationID,
		&ident.BusinessAddress, &ident.Language, &ident.ToolsEnabled, &ident.LastActiveAt, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (s *SQLiteStore) GetIdentityByAddress(ctx context.Context, address string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `SELECT `+sqliteIdentityCols+` FROM identities WHERE address = ?`, address))
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `SELECT `+sqliteIdentityCols+` FROM identities WHERE id = ?`, id))
}

func (s *SQLiteStore) CreateIdentity(ctx context.Context, ident *Identity) error {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (`+sqliteIdentityCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ident.ID, ident.Address, ident.BusinessName, ident.RegistrationID, ident.BusinessAddress,
		ident.Language, ident.ToolsEnabled, ident.LastActiveAt, ident.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) UpdateIdentity(ctx context.Context, ident *Identity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET business_name = ?, registration_id = ?, business_address = ?,
			language = ?, tools_enabled = ?, last_active_at = ?
		WHERE id = ?
	`, ident.BusinessName, ident.RegistrationID, ident.BusinessAddress, ident.Language,
		ident.ToolsEnabled, ident.LastActiveAt, ident.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateConversationTurn(ctx context.Context, turn *ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, identity_id, request, response, tool_name, tool_arguments,
			prompt_tokens, completion_tokens, total_tokens, duration_ms, model, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.IdentityID, []byte(turn.Request), []byte(turn.Response), turn.ToolName, []byte(turn.ToolArguments),
		turn.PromptTokens, turn.CompletionTokens, turn.TotalTokens, turn.DurationMS, turn.Model, turn.Error, turn.CreatedAt)
	return err
}

func (s *SQLiteStore) CreateClient(ctx context.Context, c *Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, identity_id, name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.IdentityID, c.Name, c.Email, c.Phone, c.CreatedAt)
	return err
}

func (s *SQLiteStore) SearchClients(ctx context.Context, identityID, query string) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, name, email, phone, created_at FROM clients
		WHERE identity_id = ? AND (name LIKE ? OR email LIKE ?)
		ORDER BY name
	`, identityID, "%"+query+"%", "%"+query+"%")
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

func (s *SQLiteStore) CreateQuote(ctx context.Context, q *Quote) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, identity_id, client_id, number, description, amount_cents, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.ID, q.IdentityID, q.ClientID, q.Number, q.Description, q.AmountCents, q.Currency, string(q.Status), q.CreatedAt)
	return err
}

func (s *SQLiteStore) GetQuoteByNumber(ctx context.Context, identityID, number string) (*Quote, error) {
	q := &Quote{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity_id, client_id, number, description, amount_cents, currency, status, created_at
		FROM quotes WHERE identity_id = ? AND number = ?
	`, identityID, number).Scan(&q.ID, &q.IdentityID, &q.ClientID, &q.Number, &q.Description, &q.AmountCents, &q.Currency, &status, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.Status = QuoteStatus(status)
	return q, nil
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, identityID string, limit int) ([]*Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, client_id, number, description, amount_cents, currency, status, created_at
		FROM quotes WHERE identity_id = ? ORDER BY created_at DESC LIMIT ?
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

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, identity_id, client_id, number, description, amount_cents, currency, status, due_date, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.IdentityID, inv.ClientID, inv.Number, inv.Description, inv.AmountCents, inv.Currency, string(inv.Status), inv.DueDate, inv.PaidAt, inv.CreatedAt)
	return err
}

func (s *SQLiteStore) scanInvoiceRow(rows *sql.Rows) (*Invoice, error) {
	inv := &Invoice{}
	var status string
	var dueDate, paidAt sql.NullTime
	if err := rows.Scan(&inv.ID, &inv.IdentityID, &inv.ClientID, &inv.Number, &inv.Description,
		&inv.AmountCents, &inv.Currency, &status, &dueDate, &paidAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	if dueDate.Valid {
		inv.DueDate = dueDate.Time
	}
	if paidAt.Valid {
		inv.PaidAt = paidAt.Time
	}
	return inv, nil
}

const sqliteInvoiceCols = `id, identity_id, client_id, number, description, amount_cents, currency, status, due_date, paid_at, created_at`

func (s *SQLiteStore) GetInvoiceByNumber(ctx context.Context, identityID, number string) (*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteInvoiceCols+` FROM invoices WHERE identity_id = ? AND number = ?
	`, identityID, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return s.scanInvoiceRow(rows)
}

func (s *SQLiteStore) MarkInvoicePaid(ctx context.Context, identityID, number string) (*Invoice, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = ? WHERE identity_id = ? AND number = ?
	`, time.Now().UTC(), identityID, number)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetInvoiceByNumber(ctx, identityID, number)
}

func (s *SQLiteStore) ListUnpaidInvoices(ctx context.Context, identityID string) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteInvoiceCols+` FROM invoices
		WHERE identity_id = ? AND status != 'paid' ORDER BY due_date
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		inv, err := s.scanInvoiceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
