package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/i18n"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/queue"
	"github.com/billowhq/billow/pkg/store"
)

// Outcome tells the HTTP layer how to acknowledge a delivery.
type Outcome string

const (
	OutcomeIngested        Outcome = "ingested"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeIgnoredEvent    Outcome = "ignored_event"
	OutcomeIgnoredAccount  Outcome = "ignored_account"
	OutcomeSelfLoop        Outcome = "self_loop"
	OutcomeRejectedAccount Outcome = "rejected_account"
)

// Enqueuer is the slice of the task queue ingestion needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

type Config struct {
	// AccountID is the provider account this instance serves. Empty
	// disables the account check.
	AccountID string
	// StrictAccountCheck turns an account mismatch into a rejection
	// instead of a silent acknowledgment.
	StrictAccountCheck bool
	// AccountAddress is the platform's own connected number, used for
	// the self-loop guard.
	AccountAddress string
}

type Ingestor struct {
	ds     store.DataStore
	tasks  Enqueuer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewIngestor(ds store.DataStore, tasks Enqueuer, cfg Config) *Ingestor {
	return &Ingestor{
		ds:     ds,
		tasks:  tasks,
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "webhook"),
		now:    time.Now,
	}
}

var digitRun = regexp.MustCompile(`\d{6,}`)

// Ingest validates one delivery, persists the inbound record and
// enqueues its processing task. Duplicate deliveries and ignorable
// events return a non-error outcome so the provider stops retrying.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) (Outcome, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonUnprocessableInput)
	}

	if in.cfg.AccountID != "" && p.AccountID != "" && p.AccountID != in.cfg.AccountID {
		in.logger.Warn("webhook_account_mismatch", "account_id", p.AccountID, "strict", in.cfg.StrictAccountCheck)
		if in.cfg.StrictAccountCheck {
			return OutcomeRejectedAccount, nil
		}
		return OutcomeIgnoredAccount, nil
	}

	if !p.IsNewMessage() {
		in.logger.Debug("webhook_event_ignored", "event", p.Event)
		return OutcomeIgnoredEvent, nil
	}

	address, err := senderAddress(p.Sender)
	if err != nil {
		return "", err
	}

	if in.cfg.AccountAddress != "" && address == normalizeAddress(in.cfg.AccountAddress) {
		in.logger.Debug("webhook_self_loop_dropped", "chat_id", p.ChatID)
		return OutcomeSelfLoop, nil
	}

	if p.MessageID != "" {
		if _, err := in.ds.GetMessageByProviderID(ctx, p.MessageID); err == nil {
			in.logger.Debug("webhook_duplicate", "provider_message_id", p.MessageID)
			return OutcomeDuplicate, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", errorsx.Wrap(err, errorsx.ReasonStore)
		}
	}

	ident, err := in.resolveIdentity(ctx, address, p.Sender.AttendeeName)
	if err != nil {
		return "", err
	}

	kind, attachmentID := classifyContent(p.Attachments)
	record := &store.Message{
		IdentityID:        ident.ID,
		ProviderMessageID: p.MessageID,
		ChatID:            p.ChatID,
		Direction:         store.DirectionInbound,
		Kind:              kind,
		Body:              p.Message,
		AttachmentID:      attachmentID,
		RawPayload:        raw,
		CreatedAt:         p.SentAt(in.now()),
	}
	if err := in.ds.CreateMessage(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost the race against a concurrent delivery of the same id
			return OutcomeDuplicate, nil
		}
		return "", errorsx.Wrap(err, errorsx.ReasonStore)
	}

	if err := in.tasks.Enqueue(ctx, queue.Task{RecordID: record.ID, Attempt: 1}); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStore)
	}

	in.logger.Info("webhook_ingested",
		"record_id", record.ID,
		"identity_id", ident.ID,
		"chat_id", p.ChatID,
		"kind", string(kind),
	)
	return OutcomeIngested, nil
}

func (in *Ingestor) resolveIdentity(ctx context.Context, address, name string) (*store.Identity, error) {
	ident, err := in.ds.GetIdentityByAddress(ctx, address)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		ident = &store.Identity{
			Address:      address,
			BusinessName: strings.TrimSpace(name),
			Language:     i18n.DefaultLanguage,
		}
		if err := in.ds.CreateIdentity(ctx, ident); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonStore)
		}
		in.logger.Info("identity_created", "identity_id", ident.ID, "address", address)
	default:
		return nil, errorsx.Wrap(err, errorsx.ReasonStore)
	}

	ident.LastActiveAt = in.now().UTC()
	if err := in.ds.UpdateIdentity(ctx, ident); err != nil {
		in.logger.Warn("identity_activity_update_error", "identity_id", ident.ID, "error", err)
	}
	return ident, nil
}

// senderAddress derives the phone-shaped address, trying the explicit
// phone field first, then the provider attendee id, then a digit run
// inside the attendee id.
func senderAddress(s Sender) (string, error) {
	if addr := normalizeAddress(s.PhoneNumber); addr != "" {
		return addr, nil
	}
	if addr := normalizeAddress(s.AttendeeProviderID); addr != "" {
		return addr, nil
	}
	if m := digitRun.FindString(s.AttendeeID); m != "" {
		return m, nil
	}
	return "", errorsx.Wrap(errors.New("no sender address in payload"), errorsx.ReasonUnprocessableInput)
}

func normalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	// provider ids look like "33612345678@s.whatsapp.net"
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	raw = strings.TrimPrefix(raw, "+")
	if raw == "" || strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return ""
	}
	return raw
}

func classifyContent(attachments AttachmentList) (store.ContentKind, string) {
	for _, a := range attachments {
		kind := strings.ToLower(a.Type)
		if kind == "" {
			kind = strings.ToLower(a.AttachmentType)
		}
		switch {
		case a.VoiceNote, strings.Contains(kind, "audio"), strings.Contains(kind, "voice"):
			return store.KindAudio, a.ID
		case strings.Contains(kind, "image"), strings.Contains(kind, "photo"):
			return store.KindImage, a.ID
		case strings.Contains(kind, "video"):
			return store.KindVideo, a.ID
		case strings.Contains(kind, "document"), strings.Contains(kind, "file"), strings.Contains(kind, "pdf"):
			return store.KindDocument, a.ID
		}
	}
	return store.KindText, ""
}
