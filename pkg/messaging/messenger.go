package messaging

import "context"

// Attachment is a downloaded inbound attachment.
type Attachment struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Messenger sends outbound messages to the chat platform and downloads
// inbound attachments. Both send calls return the provider message id
// used to record the outbound message.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendAttachment(ctx context.Context, chatID string, data []byte, filename, contentType, caption string) (string, error)
	DownloadAttachment(ctx context.Context, attachmentID string) (Attachment, error)
	Name() string
}
