package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/billowhq/billow/pkg/messaging"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID  string
	Text    string
	Caption string
	IsMedia bool
}

// Messenger records sends and serves a canned attachment.
type Messenger struct {
	mu          sync.Mutex
	sent        []Sent
	Attachment  messaging.Attachment
	SendErr     error
	DownloadErr error
	counter     int
}

func NewMessenger() *Messenger {
	return &Messenger{
		Attachment: messaging.Attachment{Data: []byte("OggS"), ContentType: "audio/ogg", Filename: "note.ogg"},
	}
}

func (m *Messenger) Name() string { return "mock_messenger" }

func (m *Messenger) SendText(ctx context.Context, chatID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.sent = append(m.sent, Sent{ChatID: chatID, Text: text})
	m.counter++
	return fmt.Sprintf("out-%d", m.counter), nil
}

func (m *Messenger) SendAttachment(ctx context.Context, chatID string, data []byte, filename, contentType, caption string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.sent = append(m.sent, Sent{ChatID: chatID, Caption: caption, IsMedia: true})
	m.counter++
	return fmt.Sprintf("out-%d", m.counter), nil
}

func (m *Messenger) DownloadAttachment(ctx context.Context, attachmentID string) (messaging.Attachment, error) {
	if m.DownloadErr != nil {
		return messaging.Attachment{}, m.DownloadErr
	}
	return m.Attachment, nil
}

func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
