package stt

import "testing"

func TestExtensionFromFilename(t *testing.T) {
	if got := Extension("note.MP3", "audio/ogg"); got != ".mp3" {
		t.Fatalf("filename hint should win, got %s", got)
	}
}

func TestExtensionFromContentType(t *testing.T) {
	cases := map[string]string{
		"audio/ogg; codecs=opus": ".ogg",
		"audio/mpeg":             ".mp3",
		"audio/mp4":              ".m4a",
		"audio/wav":              ".wav",
		"audio/webm":             ".webm",
		"application/unknown":    ".ogg",
		"":                       ".ogg",
	}
	for ct, want := range cases {
		if got := Extension("", ct); got != want {
			t.Fatalf("content type %q: expected %s, got %s", ct, want, got)
		}
	}
}
