package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/billowhq/billow/pkg/engine"
	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/i18n"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/messaging"
	msgmock "github.com/billowhq/billow/pkg/messaging/mock"
	provmock "github.com/billowhq/billow/pkg/providers/mock"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/stt"
	"github.com/billowhq/billow/pkg/tools"
	"github.com/billowhq/billow/pkg/tools/builtin"
)

type fixture struct {
	ds        *store.MemoryStore
	messenger *msgmock.Messenger
	stt       *provmock.Transcriber
	llm       *provmock.LLMAdapter
	worker    *Worker
	ident     *store.Identity
}

func newFixture(t *testing.T, responses ...llm.Response) *fixture {
	t.Helper()
	ds := store.NewMemoryStore()
	ident := &store.Identity{Address: "33612345678", BusinessName: "Plomberie Dupont", Language: "fr", ToolsEnabled: true}
	if err := ds.CreateIdentity(context.Background(), ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	executor, err := tools.NewExecutor(tools.Catalog(), builtin.Handlers(ds))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	adapter := provmock.NewLLMAdapter(responses...)
	eng := engine.New(ds, adapter, executor, engine.Config{})
	messenger := msgmock.NewMessenger()
	transcriber := provmock.NewTranscriber("Bonjour", "fr")

	return &fixture{
		ds:        ds,
		messenger: messenger,
		stt:       transcriber,
		llm:       adapter,
		worker:    New(ds, messenger, transcriber, eng),
		ident:     ident,
	}
}

func (f *fixture) seed(t *testing.T, kind store.ContentKind, body, attachmentID string) *store.Message {
	t.Helper()
	m := &store.Message{
		IdentityID:        f.ident.ID,
		ProviderMessageID: "wamid-" + string(kind) + body,
		ChatID:            "chat-1",
		Direction:         store.DirectionInbound,
		Kind:              kind,
		Body:              body,
		AttachmentID:      attachmentID,
	}
	if err := f.ds.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return m
}

func TestProcessTextEndToEnd(t *testing.T) {
	f := newFixture(t, llm.Response{Text: "Bonjour ! Que puis-je faire ?"})
	rec := f.seed(t, store.KindText, "Bonjour", "")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.llm.Calls() != 1 {
		t.Fatalf("expected 1 completion call, got %d", f.llm.Calls())
	}

	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].Text != "Bonjour ! Que puis-je faire ?" || sent[0].ChatID != "chat-1" {
		t.Fatalf("unexpected sends: %+v", sent)
	}

	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if !stored.Processed {
		t.Fatal("record not marked processed")
	}
	outbound, err := f.ds.GetMessageByProviderID(context.Background(), "out-1")
	if err != nil {
		t.Fatalf("outbound record: %v", err)
	}
	if outbound.Direction != store.DirectionOutbound || outbound.Body != sent[0].Text {
		t.Fatalf("unexpected outbound record: %+v", outbound)
	}
}

func TestProcessAudioEndToEnd(t *testing.T) {
	f := newFixture(t, llm.Response{Text: "Bien noté."})
	rec := f.seed(t, store.KindAudio, "", "att-1")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.stt.Calls() != 1 {
		t.Fatalf("expected 1 transcription, got %d", f.stt.Calls())
	}

	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if stored.Transcript != "Bonjour" || stored.TranscriptLanguage != "fr" {
		t.Fatalf("transcript not persisted: %+v", stored)
	}
	if !stored.Processed {
		t.Fatal("record not marked processed")
	}
	// the engine saw the transcript, not the empty body
	msgs := f.llm.Requests()[0].Messages
	if last := msgs[len(msgs)-1]; last["content"] != "Bonjour" {
		t.Fatalf("engine input = %v", last["content"])
	}
}

func TestAudioDownloadMetadataReachesTranscriber(t *testing.T) {
	f := newFixture(t, llm.Response{Text: "Bien noté."})
	f.messenger.Attachment = messaging.Attachment{Data: []byte("ID3..."), ContentType: "audio/mpeg", Filename: "voicenote"}
	rec := f.seed(t, store.KindAudio, "", "att-1")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.stt.LastAudio()
	if got.Filename != "voicenote" || got.ContentType != "audio/mpeg" {
		t.Fatalf("transcriber saw filename=%q content_type=%q", got.Filename, got.ContentType)
	}
	if string(got.Data) != "ID3..." {
		t.Fatalf("transcriber saw data %q", got.Data)
	}
	// the content type alone must be enough to pick the container
	if ext := stt.Extension(got.Filename, got.ContentType); ext != ".mp3" {
		t.Fatalf("extension = %s, want .mp3", ext)
	}
}

func TestProcessedGuardSkipsAdapters(t *testing.T) {
	f := newFixture(t, llm.Response{Text: "ok"})
	rec := f.seed(t, store.KindText, "Bonjour", "")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("second process: %v", err)
	}

	if f.llm.Calls() != 1 {
		t.Fatalf("expected 1 completion call across redelivery, got %d", f.llm.Calls())
	}
	if len(f.messenger.Sent()) != 1 {
		t.Fatalf("expected 1 send across redelivery, got %d", len(f.messenger.Sent()))
	}
}

func TestTranscriptionFailureSendsApologyWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.stt.Err = errorsx.Wrap(errors.New("undecodable audio"), errorsx.ReasonTranscription)
	rec := f.seed(t, store.KindAudio, "", "att-1")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("apology path must not return an error, got %v", err)
	}

	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].Text != i18n.Reply("fr", i18n.KeyTranscriptionFailed) {
		t.Fatalf("expected localized apology, got %+v", sent)
	}
	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if stored.LastError == "" || !stored.Processed {
		t.Fatalf("expected error persisted and record handled: %+v", stored)
	}
	if f.llm.Calls() != 0 {
		t.Fatal("engine must not run on a failed transcription")
	}
}

func TestTransientDownloadFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.messenger.DownloadErr = errors.New("connection reset")
	rec := f.seed(t, store.KindAudio, "", "att-1")

	err := f.worker.Process(context.Background(), rec.ID)
	if err == nil {
		t.Fatal("expected error for retry")
	}
	if !errorsx.Reason(err).Retryable() {
		t.Fatalf("download failure must be retryable, got reason %s", errorsx.Reason(err))
	}

	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if stored.Processed {
		t.Fatal("failed record must stay unprocessed")
	}
	if stored.LastError == "" {
		t.Fatal("failure must be persisted on the record")
	}
}

func TestEmptyTextIsSkippedSilently(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, store.KindText, "   ", "")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.messenger.Sent()) != 0 {
		t.Fatal("empty text must not produce a reply")
	}
	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if !stored.Processed {
		t.Fatal("empty text record still gets marked processed")
	}
}

func TestMediaGetsAcknowledgmentWithoutEngine(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, store.KindImage, "", "att-img")

	if err := f.worker.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].Text != i18n.Reply("fr", i18n.KeyMediaNotSupported) {
		t.Fatalf("expected media acknowledgment, got %+v", sent)
	}
	if f.llm.Calls() != 0 {
		t.Fatal("engine must not run for media records")
	}
	stored, _ := f.ds.GetMessage(context.Background(), rec.ID)
	if stored.Body == "" {
		t.Fatal("expected placeholder body for empty media record")
	}
}

func TestMissingRecordIsTerminal(t *testing.T) {
	f := newFixture(t)
	err := f.worker.Process(context.Background(), "no-such-record")
	if err == nil {
		t.Fatal("expected error")
	}
	if errorsx.Reason(err) != errorsx.ReasonRecordNotFound {
		t.Fatalf("reason = %s, want record_not_found", errorsx.Reason(err))
	}
	if errorsx.Reason(err).Retryable() {
		t.Fatal("missing record must not be retried")
	}
}
