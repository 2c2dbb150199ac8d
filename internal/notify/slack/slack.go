// Package slack implements the notify Provider as a Slack direct message to
// the workspace member whose profile e-mail matches the recipient.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/nudge/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// sectionLimit is Slack's maximum section text length.
	sectionLimit = 3000
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	GetUserByEmailContext(ctx context.Context, email string) (*slackapi.User, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Provider delivers reminders as Slack DMs.
type Provider struct {
	client   slackClient
	botToken string
}

// New creates a Slack provider for the given bot token (xoxb-...). The token
// needs users:read.email and chat:write scopes.
func New(botToken string) *Provider {
	p := &Provider{botToken: botToken}
	if botToken != "" {
		p.client = slackapi.New(botToken)
	}
	return p
}

// Name returns "slack".
func (p *Provider) Name() string { return "slack" }

// Configured reports whether a bot token is set.
func (p *Provider) Configured() bool { return p.botToken != "" && p.client != nil }

// Send looks up the member by e-mail and posts the reminder to them.
func (p *Provider) Send(ctx context.Context, env notify.Envelope) error {
	if !p.Configured() {
		return fmt.Errorf("slack: bot token not configured")
	}

	var user *slackapi.User
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = p.client.GetUserByEmailContext(ctx, env.To)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: lookup %s: %w", env.To, err)
	}

	body := env.PlainBody
	if len(body) > sectionLimit {
		body = body[:sectionLimit-3] + "..."
	}
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(env.Subject, false),
		slackapi.MsgOptionBlocks(
			slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, env.Subject, true, false)),
			slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, body, false, false), nil, nil),
		),
	}
	err = retryOnRateLimit(ctx, func() error {
		_, _, postErr := p.client.PostMessageContext(ctx, user.ID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// retryOnRateLimit retries fn while Slack reports rate limiting, waiting for
// the advertised Retry-After (or exponential backoff when absent).
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
