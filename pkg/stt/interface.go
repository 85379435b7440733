package stt

import (
	"context"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/errorsx"
)

// Result is a finished transcription of one voice note.
type Result struct {
	Transcript string
	Language   string
	Duration   time.Duration
}

// Audio is one downloaded voice note handed to a transcriber. Filename
// and ContentType come from the platform download and may be empty.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Transcriber converts a voice note into text. languageHint may be
// empty, in which case the provider detects the language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, languageHint string) (Result, error)
	Name() string
}

// IsTranscriptionError reports whether err is a provider-side
// transcription failure, which the worker answers with an apology
// instead of retrying.
func IsTranscriptionError(err error) bool {
	return errorsx.HasReason(err, errorsx.ReasonTranscription)
}

// Extension picks a container extension for a temp audio file from the
// filename hint, then from the declared content type, defaulting to ogg
// (the usual voice-note container).
func Extension(filenameHint, contentType string) string {
	if i := strings.LastIndex(filenameHint, "."); i >= 0 && i < len(filenameHint)-1 {
		return strings.ToLower(filenameHint[i:])
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "ogg"), strings.Contains(ct, "opus"):
		return ".ogg"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return ".mp3"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return ".m4a"
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "webm"):
		return ".webm"
	}
	return ".ogg"
}
