// Package whatsapp sends sign-in codes through the WhatsApp Business Cloud
// API using an authentication message template.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/leasehub/tenantauth/internal/notifier"
	"github.com/leasehub/tenantauth/pkg/httpclient"
)

// Config holds the Cloud API settings.
type Config struct {
	APIURL           string
	PhoneNumberID    string
	AccessToken      string
	TemplateName     string
	TemplateLanguage string
}

// Doer executes HTTP requests. *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Sender implements notifier.Sender.
type Sender struct {
	client Doer
	cfg    Config
	logger *slog.Logger
}

// NewSender creates a WhatsApp sender.
func NewSender(client Doer, cfg Config, logger *slog.Logger) *Sender {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Sender{client: client, cfg: cfg, logger: logger}
}

// Name returns the sender name.
func (s *Sender) Name() string { return "whatsapp" }

type templateMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components"`
}

type language struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	SubType    string      `json:"sub_type,omitempty"`
	Index      string      `json:"index,omitempty"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// buildMessage fills the code into the template body and its copy-code
// button, as authentication templates require.
func (s *Sender) buildMessage(msg notifier.Message) templateMessage {
	code := []parameter{{Type: "text", Text: msg.Code}}
	return templateMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(msg.Phone, "+"),
		Type:             "template",
		Template: template{
			Name:     s.cfg.TemplateName,
			Language: language{Code: s.cfg.TemplateLanguage},
			Components: []component{
				{Type: "body", Parameters: code},
				{Type: "button", SubType: "url", Index: "0", Parameters: code},
			},
		},
	}
}

// Send posts the template message.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	body, err := json.Marshal(s.buildMessage(msg))
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.cfg.APIURL, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		err := httpclient.ParseResponseError(resp, "whatsapp")
		if httpclient.IsClientError(status) {
			// 4xx responses are permanent for this message.
			s.logger.WarnContext(ctx, "whatsapp rejected message",
				slog.Int("status", status),
				slog.String("template", s.cfg.TemplateName),
			)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("decode whatsapp response: %w", err)
	}
	if len(out.Messages) == 0 {
		return fmt.Errorf("whatsapp response carried no message id")
	}

	s.logger.DebugContext(ctx, "whatsapp message accepted", slog.String("message_id", out.Messages[0].ID))
	return nil
}
