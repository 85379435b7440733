package webhook

import (
	"encoding/json"
	"strings"
	"time"
)

// Payload is the provider delivery for one chat event. Only the fields
// the pipeline consumes are declared; everything else rides along in
// the raw body.
type Payload struct {
	Event       string         `json:"event"`
	AccountID   string         `json:"account_id"`
	ChatID      string         `json:"chat_id"`
	MessageID   string         `json:"message_id"`
	Message     string         `json:"message"`
	Timestamp   string         `json:"timestamp"`
	Sender      Sender         `json:"sender"`
	Attachments AttachmentList `json:"attachments"`
}

type Sender struct {
	PhoneNumber        string `json:"phone_number"`
	AttendeeProviderID string `json:"attendee_provider_id"`
	AttendeeName       string `json:"attendee_name"`
	AttendeeID         string `json:"attendee_id"`
}

type PayloadAttachment struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	AttachmentType string `json:"attachment_type"`
	VoiceNote      bool   `json:"voice_note"`
}

// AttachmentList tolerates both shapes the provider sends: a JSON
// array or a single bare object.
type AttachmentList []PayloadAttachment

func (l *AttachmentList) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var arr []PayloadAttachment
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var single PayloadAttachment
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = AttachmentList{single}
	return nil
}

// SentAt parses the provider timestamp, falling back to now on any
// parse failure.
func (p *Payload) SentAt(now time.Time) time.Time {
	if p.Timestamp == "" {
		return now
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, p.Timestamp); err == nil {
			return t
		}
	}
	return now
}

// IsNewMessage reports whether the event kind is a new inbound
// message. An absent event field is accepted for older provider
// versions that only sent message deliveries.
func (p *Payload) IsNewMessage() bool {
	return p.Event == "" || p.Event == "message_received"
}
