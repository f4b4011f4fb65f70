package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// gatewayClient posts JSON payloads to a bearer-authenticated HTTP gateway.
type gatewayClient struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func newGatewayClient(name, url, token string, client *http.Client) gatewayClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return gatewayClient{name: name, url: url, token: token, client: client}
}

func (g gatewayClient) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", g.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", g.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", g.name, err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return &ProviderError{Provider: g.name, StatusCode: res.StatusCode, Body: truncate(string(raw))}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// truncate caps a provider body at 256 bytes without splitting a UTF-8 sequence.
func truncate(s string) string {
	const max = 256
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SMSGateway delivers text messages through an HTTP SMS gateway.
type SMSGateway struct {
	gw       gatewayClient
	senderID string
}

// NewSMSGateway builds the SMS sender. client may be nil.
func NewSMSGateway(url, token, senderID string, client *http.Client) *SMSGateway {
	return &SMSGateway{gw: newGatewayClient("sms", url, token, client), senderID: senderID}
}

type smsPayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

// Send implements Sender.
func (s *SMSGateway) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoDestination
	}
	return s.gw.post(ctx, smsPayload{From: s.senderID, To: msg.To, Text: msg.Body, Reference: msg.Reference})
}

// SendSMS sends a text message.
func (s *SMSGateway) SendSMS(ctx context.Context, to, body string) error {
	return s.Send(ctx, Message{To: to, Body: body})
}

// WhatsApp delivers text messages through a WhatsApp business messaging endpoint.
type WhatsApp struct {
	gw gatewayClient
}

// NewWhatsApp builds the WhatsApp sender. client may be nil.
func NewWhatsApp(url, token string, client *http.Client) *WhatsApp {
	return &WhatsApp{gw: newGatewayClient("whatsapp", url, token, client)}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
	BizOpaque        string       `json:"biz_opaque_callback_data,omitempty"`
}

// Send implements Sender.
func (w *WhatsApp) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoDestination
	}
	return w.gw.post(ctx, whatsAppPayload{
		MessagingProduct: "whatsapp",
		To:               msg.To,
		Type:             "text",
		Text:             whatsAppText{Body: msg.Body},
		BizOpaque:        msg.Reference,
	})
}

// SendWhatsApp sends a text message.
func (w *WhatsApp) SendWhatsApp(ctx context.Context, to, body string) error {
	return w.Send(ctx, Message{To: to, Body: body})
}
