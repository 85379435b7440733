package store

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ContentKind string

const (
	KindText     ContentKind = "text"
	KindAudio    ContentKind = "audio"
	KindImage    ContentKind = "image"
	KindDocument ContentKind = "document"
	KindVideo    ContentKind = "video"
)

// Message is one received or sent chat message. ProviderMessageID is
// the external dedup key: at-least-once webhook delivery must collapse
// to a single row.
type Message struct {
	ID                 string
	IdentityID         string
	ProviderMessageID  string
	ChatID             string
	Direction          Direction
	Kind               ContentKind
	Body               string
	AttachmentID       string
	Transcript         string
	TranscriptLanguage string
	Processed          bool
	LastError          string
	RawPayload         json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectiveContent is what the conversation engine feeds into the
// history window: the transcript for audio, the body otherwise.
func (m *Message) EffectiveContent() string {
	if m.Kind == KindAudio {
		return m.Transcript
	}
	return m.Body
}

// Identity is the business owner of a conversation, keyed by the
// phone-shaped sender address. ToolsEnabled gates side-effecting
// business tools; the pipeline only passes it through.
type Identity struct {
	ID              string
	Address         string
	BusinessName    string
	RegistrationID  string
	BusinessAddress string
	Language        string
	ToolsEnabled    bool
	LastActiveAt    time.Time
	CreatedAt       time.Time
}

// ConversationTurn records one completion call: a single user message
// may produce several while the tool loop runs. Written once, never
// read back by the pipeline.
type ConversationTurn struct {
	ID               string
	IdentityID       string
	Request          json.RawMessage
	Response         json.RawMessage
	ToolName         string
	ToolArguments    json.RawMessage
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	DurationMS       int64
	Model            string
	Error            string
	CreatedAt        time.Time
}

// Business entities behind the catalog tools. The pipeline itself never
// touches them; the builtin handlers do.

type Client struct {
	ID         string
	IdentityID string
	Name       string
	Email      string
	Phone      string
	CreatedAt  time.Time
}

type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteAccepted QuoteStatus = "accepted"
)

type Quote struct {
	ID          string
	IdentityID  string
	ClientID    string
	Number      string
	Description string
	AmountCents int64
	Currency    string
	Status      QuoteStatus
	CreatedAt   time.Time
}

type InvoiceStatus string

const (
	InvoiceDue  InvoiceStatus = "due"
	InvoicePaid InvoiceStatus = "paid"
)

type Invoice struct {
	ID          string
	IdentityID  string
	ClientID    string
	Number      string
	Description string
	AmountCents int64
	Currency    string
	Status      InvoiceStatus
	DueDate     time.Time
	PaidAt      time.Time
	CreatedAt   time.Time
}
