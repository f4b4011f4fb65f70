package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Console logs messages instead of delivering them. It is wired for channels whose
// provider is not configured and keeps a copy of everything it was asked to send.
type Console struct {
	channel string
	logger  *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewConsole builds a console sender for the named channel.
func NewConsole(channel string, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{channel: channel, logger: logger}
}

// Send implements Sender.
func (c *Console) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.logger.Info("notification (console)",
		zap.String("channel", c.channel),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("reference", msg.Reference),
		zap.String("body", msg.Body),
		zap.Int("html_bytes", len(msg.HTMLBody)),
	)
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

// SendSMS implements the SMS provider contract.
func (c *Console) SendSMS(ctx context.Context, to, body string) error {
	return c.Send(ctx, Message{To: to, Body: body})
}

// SendEmail implements the email provider contract.
func (c *Console) SendEmail(ctx context.Context, to, subject, html string) error {
	return c.Send(ctx, Message{To: to, Subject: subject, HTMLBody: html})
}

// SendWhatsApp implements the WhatsApp provider contract.
func (c *Console) SendWhatsApp(ctx context.Context, to, body string) error {
	return c.Send(ctx, Message{To: to, Body: body})
}

// Sent returns a copy of the messages handled so far.
func (c *Console) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}
