// Package worker executes one queued processing task: it turns a
// persisted inbound record into an outbound reply and marks the
// record processed.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/engine"
	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/i18n"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/messaging"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/resilience"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/stt"
)

// Responder is the conversation surface the worker drives.
type Responder interface {
	Respond(ctx context.Context, ident *store.Identity, turn engine.Turn) string
}

type Worker struct {
	ds          store.DataStore
	messenger   messaging.Messenger
	transcriber stt.Transcriber
	responder   Responder
	download    resilience.RetryPolicy
	logger      *slog.Logger
}

func New(ds store.DataStore, messenger messaging.Messenger, transcriber stt.Transcriber, responder Responder) *Worker {
	return &Worker{
		ds:          ds,
		messenger:   messenger,
		transcriber: transcriber,
		responder:   responder,
		download:    resilience.NewRetryPolicy(2, 250*time.Millisecond),
		logger:      logging.NewComponentLogger(slog.Default(), "worker"),
	}
}

// Process handles one record id. A returned error with a retryable
// reason code makes the queue redeliver the task; terminal reasons are
// discarded upstream.
func (w *Worker) Process(ctx context.Context, recordID string) error {
	rec, err := w.ds.GetMessage(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorsx.Wrap(err, errorsx.ReasonRecordNotFound)
		}
		return errorsx.Wrap(err, errorsx.ReasonStore)
	}
	if rec.Processed {
		w.logger.Debug("record_already_processed", "record_id", rec.ID)
		return nil
	}

	ident, err := w.ds.GetIdentity(ctx, rec.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorsx.Wrap(err, errorsx.ReasonRecordNotFound)
		}
		return errorsx.Wrap(err, errorsx.ReasonStore)
	}

	reply, err := w.dispatch(ctx, rec, ident)
	if err != nil {
		w.persistFailure(ctx, rec, err)
		return err
	}

	if reply != "" {
		if err := w.sendReply(ctx, rec, ident, reply); err != nil {
			w.persistFailure(ctx, rec, err)
			return err
		}
	}

	rec.Processed = true
	if err := w.ds.UpdateMessage(ctx, rec); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonStore)
	}
	w.logger.Info("record_processed",
		"record_id", rec.ID,
		"identity_id", ident.ID,
		"kind", string(rec.Kind),
		"replied", reply != "",
	)
	return nil
}

// dispatch runs the kind-specific branch and returns the reply text,
// empty when no reply should be sent.
func (w *Worker) dispatch(ctx context.Context, rec *store.Message, ident *store.Identity) (string, error) {
	switch rec.Kind {
	case store.KindAudio:
		return w.processAudio(ctx, rec, ident)
	case store.KindText:
		content := strings.TrimSpace(rec.Body)
		if content == "" {
			w.logger.Info("empty_text_skipped", "record_id", rec.ID)
			return "", nil
		}
		return w.responder.Respond(ctx, ident, engine.Turn{Text: content, RecordID: rec.ID}), nil
	default:
		// images, documents and video are acknowledged, never fed to
		// the conversation loop
		if strings.TrimSpace(rec.Body) == "" {
			rec.Body = mediaPlaceholder(rec.Kind)
		}
		return i18n.Reply(ident.Language, i18n.KeyMediaNotSupported), nil
	}
}

func (w *Worker) processAudio(ctx context.Context, rec *store.Message, ident *store.Identity) (string, error) {
	if rec.AttachmentID == "" {
		w.logger.Warn("audio_without_attachment", "record_id", rec.ID)
		return i18n.Reply(ident.Language, i18n.KeyTranscriptionFailed), nil
	}

	// a couple of quick in-task retries before handing the failure
	// back to the queue's slower backoff
	var attachment messaging.Attachment
	err := w.download.DoContext(ctx, func() error {
		var dErr error
		attachment, dErr = w.messenger.DownloadAttachment(ctx, rec.AttachmentID)
		return dErr
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDownload)
	}

	result, err := w.transcriber.Transcribe(ctx, stt.Audio{
		Data:        attachment.Data,
		Filename:    attachment.Filename,
		ContentType: attachment.ContentType,
	}, ident.Language)
	if err != nil {
		if stt.IsTranscriptionError(err) {
			// handled, not retried: the user gets an apology instead
			// of the task looping on an undecodable voice note
			w.logger.Warn("transcription_failed", "record_id", rec.ID, "error", err)
			rec.LastError = err.Error()
			return i18n.Reply(ident.Language, i18n.KeyTranscriptionFailed), nil
		}
		return "", err
	}

	rec.Transcript = result.Transcript
	rec.TranscriptLanguage = result.Language
	if err := w.ds.UpdateMessage(ctx, rec); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStore)
	}
	w.logger.Info("voice_note_transcribed",
		"record_id", rec.ID,
		"language", result.Language,
		"transcript_chars", len(result.Transcript),
	)

	if strings.TrimSpace(result.Transcript) == "" {
		return "", nil
	}
	return w.responder.Respond(ctx, ident, engine.Turn{
		Text:     result.Transcript,
		Language: result.Language,
		RecordID: rec.ID,
	}), nil
}

func (w *Worker) sendReply(ctx context.Context, rec *store.Message, ident *store.Identity, reply string) error {
	providerID, err := w.messenger.SendText(ctx, rec.ChatID, reply)
	if err != nil {
		metrics.OutboundSends.WithLabelValues("error").Inc()
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	metrics.OutboundSends.WithLabelValues("ok").Inc()
	outbound := &store.Message{
		IdentityID:        ident.ID,
		ProviderMessageID: providerID,
		ChatID:            rec.ChatID,
		Direction:         store.DirectionOutbound,
		Kind:              store.KindText,
		Body:              reply,
		Processed:         true,
	}
	if err := w.ds.CreateMessage(ctx, outbound); err != nil {
		// the reply is already on the wire; losing the outbound row is
		// an observability gap, not a processing failure
		w.logger.Warn("outbound_record_error", "record_id", rec.ID, "error", err)
	}
	return nil
}

func (w *Worker) persistFailure(ctx context.Context, rec *store.Message, cause error) {
	rec.LastError = cause.Error()
	if err := w.ds.UpdateMessage(ctx, rec); err != nil {
		w.logger.Warn("failure_persist_error", "record_id", rec.ID, "error", err)
	}
}

func mediaPlaceholder(kind store.ContentKind) string {
	switch kind {
	case store.KindImage:
		return "[image reçue]"
	case store.KindVideo:
		return "[vidéo reçue]"
	default:
		return "[document reçu]"
	}
}
