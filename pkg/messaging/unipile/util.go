package unipile

import (
	"bytes"
	"io"
	"mime"
	"strings"
)

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}
