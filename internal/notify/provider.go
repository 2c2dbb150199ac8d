// Package notify delivers composed reminders through pluggable providers
// (SendGrid, SMTP, Slack, Discord) and records successful deliveries in the
// communication ledger.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the interface each delivery backend satisfies.
type Provider interface {
	// Name returns the provider identifier used in config ("sendgrid", ...).
	Name() string

	// Configured reports whether the provider has complete credentials.
	Configured() bool

	// Send delivers one message. Implementations should honour ctx, but the
	// dispatcher bounds the call either way.
	Send(ctx context.Context, env Envelope) error
}

// Envelope is a message ready for delivery.
type Envelope struct {
	FromAddress string
	FromName    string
	To          string
	Subject     string
	HTMLBody    string
	PlainBody   string
}

var (
	// ErrNoAddress is returned when a request has no recipient address.
	ErrNoAddress = errors.New("notify: no recipient address")

	// ErrNoProvider is returned for live sends when no provider is configured.
	ErrNoProvider = errors.New("notify: no configured delivery provider")

	// ErrUnknownProvider is returned when a request names a provider that is
	// not registered or lacks credentials.
	ErrUnknownProvider = errors.New("notify: unknown or unconfigured provider")
)

// TransportError reports a failed delivery attempt.
type TransportError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("notify: %s: timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("notify: %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
