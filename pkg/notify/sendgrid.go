package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridEmail sends email through the SendGrid v3 API.
type SendGridEmail struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGridEmail builds the email sender. host may be empty to use the public API.
func NewSendGridEmail(key, host, fromName, fromEmail string) *SendGridEmail {
	if host == "" {
		host = sendGridHost
	}
	prefix := ""
	if fromName != "" {
		prefix = "[" + fromName + "] "
	}
	return &SendGridEmail{
		key:        key,
		host:       host,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: prefix,
	}
}

// Send implements Sender.
func (s *SendGridEmail) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoDestination
	}
	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return &ProviderError{Provider: "sendgrid", StatusCode: res.StatusCode, Body: truncate(res.Body)}
	}
	return nil
}

// SendEmail sends an HTML email.
func (s *SendGridEmail) SendEmail(ctx context.Context, to, subject, html string) error {
	return s.Send(ctx, Message{To: to, Subject: subject, HTMLBody: html})
}

func (s *SendGridEmail) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))
	if msg.Reference != "" {
		p.SetCustomArg("reference", msg.Reference)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	if msg.Body != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	}
	if msg.HTMLBody != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLBody))
	}
	return m
}
