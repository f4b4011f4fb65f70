// Package notify holds the outbound delivery providers used to send bulletin notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Message is one rendered notification addressed to a single destination.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	HTMLBody string
	// Reference is echoed to providers that accept a client reference, for tracing.
	Reference string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ErrNoDestination is returned when a message has no address to deliver to.
var ErrNoDestination = errors.New("message has no destination")

// ProviderError reports a non-success answer from an upstream provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying later could succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a retryable provider failure.
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return false
}
