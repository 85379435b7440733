package deepgram

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/stt"
)

// Transcriber runs prerecorded transcription against the Deepgram REST
// API. Voice notes arrive as webhook attachments, already complete, so
// the live websocket client is not needed here.
type Transcriber struct {
	cfg    Config
	rest   *listenapi.Client
	logger *slog.Logger
}

type Config struct {
	APIKey string
	Model  string
}

func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("deepgram: api_key is required"), errorsx.ReasonNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	restClient := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		rest:   listenapi.New(restClient),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (stt.Result, error) {
	ext := stt.Extension(audio.Filename, audio.ContentType)
	tmp, err := os.CreateTemp("", "voicenote-*"+ext)
	if err != nil {
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio.Data); err != nil {
		tmp.Close()
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	if err := tmp.Close(); err != nil {
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		SmartFormat: true,
	}
	if languageHint != "" {
		options.Language = languageHint
	} else {
		options.DetectLanguage = true
	}

	started := time.Now()
	res, err := t.rest.FromFile(ctx, tmp.Name(), options)
	elapsed := time.Since(started)
	metrics.TranscriptionDuration.Observe(elapsed.Seconds())
	if err != nil {
		t.logger.Error("transcription_error", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, errorsx.Wrap(errors.New("deepgram: empty transcription result"), errorsx.ReasonTranscription)
	}

	channel := res.Results.Channels[0]
	result := stt.Result{
		Transcript: channel.Alternatives[0].Transcript,
		Language:   channel.DetectedLanguage,
		Duration:   elapsed,
	}
	if result.Language == "" {
		result.Language = languageHint
	}
	t.logger.Info("transcription_done",
		"elapsed_ms", elapsed.Milliseconds(),
		"language", result.Language,
		"chars", len(result.Transcript),
	)
	return result, nil
}
