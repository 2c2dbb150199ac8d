// Package sendgrid implements the notify Provider for the SendGrid v3 API.
package sendgrid

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/zulandar/nudge/internal/notify"
)

// client abstracts the SendGrid client method we use, enabling test mocks.
type client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Provider sends mail through SendGrid.
type Provider struct {
	client client
	apiKey string
}

// New creates a SendGrid provider. An empty key yields an unconfigured
// provider.
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	if apiKey != "" {
		p.client = sg.NewSendClient(apiKey)
	}
	return p
}

// Name returns "sendgrid".
func (p *Provider) Name() string { return "sendgrid" }

// Configured reports whether an API key is set.
func (p *Provider) Configured() bool { return p.apiKey != "" && p.client != nil }

// Send delivers env. Any non-2xx response is an error.
func (p *Provider) Send(ctx context.Context, env notify.Envelope) error {
	if !p.Configured() {
		return fmt.Errorf("sendgrid: api key not configured")
	}
	resp, err := p.client.SendWithContext(ctx, buildMail(env))
	if err != nil {
		return fmt.Errorf("sendgrid: send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

func buildMail(env notify.Envelope) *mail.SGMailV3 {
	plain := env.PlainBody
	if plain == "" {
		plain = "Please view in HTML"
	}
	html := env.HTMLBody
	if html == "" {
		html = "<pre>" + htmlEscape(plain) + "</pre>"
	}
	from := mail.NewEmail(env.FromName, env.FromAddress)
	to := mail.NewEmail("", env.To)
	return mail.NewSingleEmail(from, env.Subject, to, plain, html)
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;", "'", "&#39;")

func htmlEscape(s string) string { return htmlReplacer.Replace(s) }
