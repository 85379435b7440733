package twilio

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/messaging"
)

// Messenger sends outbound texts through the Twilio messaging API,
// WhatsApp-addressed. The chat id is the counterpart's phone number.
type Messenger struct {
	accountSID string
	authToken  string
	from       string
	client     *twilio.RestClient
}

type Config struct {
	AccountSID string
	AuthToken  string
	From       string
}

func New(cfg Config) (*Messenger, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errorsx.Wrap(errors.New("twilio: account_sid, auth_token and from are required"), errorsx.ReasonNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Messenger{accountSID: cfg.AccountSID, authToken: cfg.AuthToken, from: cfg.From, client: client}, nil
}

func (m *Messenger) Name() string { return "twilio" }

func (m *Messenger) SendText(ctx context.Context, chatID, text string) (string, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(whatsappAddress(chatID))
	params.SetFrom(whatsappAddress(m.from))
	params.SetBody(text)
	resp, err := m.client.Api.CreateMessage(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	if resp.Sid == nil {
		return "", errorsx.Wrap(errors.New("twilio: missing message sid"), errorsx.ReasonTransportSend)
	}
	return *resp.Sid, nil
}

// SendAttachment is not available on this transport: Twilio media
// messages need a public media URL, which this pipeline does not host.
func (m *Messenger) SendAttachment(ctx context.Context, chatID string, data []byte, filename, contentType, caption string) (string, error) {
	return "", errorsx.Wrap(errors.New("twilio: media sending not supported"), errorsx.ReasonNotConfigured)
}

func (m *Messenger) DownloadAttachment(ctx context.Context, attachmentID string) (messaging.Attachment, error) {
	return messaging.Attachment{}, errorsx.Wrap(errors.New("twilio: attachment download not supported"), errorsx.ReasonNotConfigured)
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
