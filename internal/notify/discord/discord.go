// Package discord implements the notify Provider by posting reminders as
// embeds to a Discord channel.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/nudge/internal/notify"
)

// descriptionLimit is Discord's maximum embed description length.
const descriptionLimit = 4096

// session abstracts the discordgo session methods we use, enabling test
// mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Provider posts reminders to one channel.
type Provider struct {
	sess      session
	botToken  string
	channelID string
}

// New creates a Discord provider. Messages are sent over the REST API, so no
// gateway connection is opened.
func New(botToken, channelID string) (*Provider, error) {
	p := &Provider{botToken: botToken, channelID: channelID}
	if botToken == "" {
		return p, nil
	}
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	p.sess = s
	return p, nil
}

// Name returns "discord".
func (p *Provider) Name() string { return "discord" }

// Configured reports whether both token and channel are set.
func (p *Provider) Configured() bool {
	return p.botToken != "" && p.channelID != "" && p.sess != nil
}

// Send posts env as an embed. Mentions are suppressed.
func (p *Provider) Send(ctx context.Context, env notify.Envelope) error {
	if !p.Configured() {
		return fmt.Errorf("discord: bot token or channel not configured")
	}
	body := env.PlainBody
	if len(body) > descriptionLimit {
		body = body[:descriptionLimit-3] + "..."
	}
	data := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       env.Subject,
			Description: body,
			Color:       colorFor(env.Subject),
			Footer:      &discordgo.MessageEmbedFooter{Text: "To: " + env.To},
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if _, err := p.sess.ChannelMessageSendComplex(p.channelID, data, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// colorFor maps the subject's urgency prefix to an embed colour.
func colorFor(subject string) int {
	switch {
	case strings.HasPrefix(subject, "🔴"):
		return 0xef4444
	case strings.HasPrefix(subject, "⚠️"):
		return 0xf59e0b
	default:
		return 0x667eea
	}
}
