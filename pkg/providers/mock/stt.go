package mock

import (
	"context"
	"sync"
	"time"

	"github.com/billowhq/billow/pkg/stt"
)

// Transcriber returns a fixed transcript or error and records the
// audio it was given.
type Transcriber struct {
	mu         sync.Mutex
	Transcript string
	Language   string
	Err        error
	calls      int
	last       stt.Audio
}

func NewTranscriber(transcript, language string) *Transcriber {
	return &Transcriber{Transcript: transcript, Language: language}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (stt.Result, error) {
	t.mu.Lock()
	t.calls++
	t.last = audio
	t.mu.Unlock()
	if t.Err != nil {
		return stt.Result{}, t.Err
	}
	return stt.Result{Transcript: t.Transcript, Language: t.Language, Duration: 10 * time.Millisecond}, nil
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// LastAudio returns the audio passed to the most recent Transcribe call.
func (t *Transcriber) LastAudio() stt.Audio {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
