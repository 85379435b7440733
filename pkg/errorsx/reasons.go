package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Configuration faults. Never retried: a config change is needed.
	ReasonNotConfigured ReasonCode = "not_configured"

	// Input faults. Never retried: the payload itself is unusable.
	ReasonUnprocessableInput ReasonCode = "unprocessable_input"
	ReasonUnknownTool        ReasonCode = "unknown_tool"

	// Transient faults. Retried with backoff by the task queue.
	ReasonLLMGenerate   ReasonCode = "llm_generate"
	ReasonRateLimited   ReasonCode = "rate_limited"
	ReasonTransportSend ReasonCode = "transport_send"
	ReasonDownload      ReasonCode = "attachment_download"
	ReasonStore         ReasonCode = "store"

	// Transcription faults take the apology path, not the retry path.
	ReasonTranscription ReasonCode = "transcription_failed"

	// The record behind a task vanished; nothing left to process.
	ReasonRecordNotFound ReasonCode = "record_not_found"

	// Domain faults raised by business tool handlers. Converted to
	// structured tool results, never surfaced to the chat user.
	ReasonDomain ReasonCode = "domain"
)

// Retryable reports whether the task queue should retry an error
// carrying this reason.
func (r ReasonCode) Retryable() bool {
	switch r {
	case ReasonNotConfigured, ReasonUnprocessableInput, ReasonUnknownTool,
		ReasonTranscription, ReasonRecordNotFound, ReasonDomain:
		return false
	}
	return true
}
