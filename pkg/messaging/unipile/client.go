package unipile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/messaging"
	"github.com/billowhq/billow/pkg/resilience"
)

// Client talks to the Unipile messaging API over REST.
type Client struct {
	http *resty.Client
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, errorsx.Wrap(fmt.Errorf("unipile: base_url and api_key are required"), errorsx.ReasonNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-API-KEY", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)
	return &Client{http: httpClient}, nil
}

func (c *Client) Name() string { return "unipile" }

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"text": text}).
		SetResult(&out).
		Post(fmt.Sprintf("/api/v1/chats/%s/messages", chatID))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	if err := classifyStatus(resp); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (c *Client) SendAttachment(ctx context.Context, chatID string, data []byte, filename, contentType, caption string) (string, error) {
	var out sendResponse
	req := c.http.R().
		SetContext(ctx).
		SetFileReader("attachments", filename, bytesReader(data)).
		SetResult(&out)
	if caption != "" {
		req.SetFormData(map[string]string{"text": caption})
	}
	resp, err := req.Post(fmt.Sprintf("/api/v1/chats/%s/messages", chatID))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	if err := classifyStatus(resp); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (c *Client) DownloadAttachment(ctx context.Context, attachmentID string) (messaging.Attachment, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/api/v1/messages/attachments/%s", attachmentID))
	if err != nil {
		return messaging.Attachment{}, errorsx.Wrap(err, errorsx.ReasonDownload)
	}
	if err := classifyStatus(resp); err != nil {
		return messaging.Attachment{}, errorsx.Wrap(err, errorsx.ReasonDownload)
	}
	return messaging.Attachment{
		Data:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
		Filename:    filenameFromDisposition(resp.Header().Get("Content-Disposition")),
	}, nil
}

func classifyStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return errorsx.Wrap(resilience.RateLimitError{Provider: "unipile", Message: string(resp.Body())}, errorsx.ReasonRateLimited)
	case resp.IsError():
		return errorsx.Wrap(fmt.Errorf("unipile: %s: %s", resp.Status(), resp.Body()), errorsx.ReasonTransportSend)
	}
	return nil
}
