package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Discord posts alert embeds to a Discord channel through a bot token.
// Messages go over the REST API, so no gateway connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscord creates a Discord bot channel.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &Discord{session: session, channelID: channelID}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Deliver(ctx context.Context, alert model.Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       discordColor(alert.Severity),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Metric", Value: alert.Metric, Inline: true},
			{Name: "Severity", Value: string(alert.Severity), Inline: true},
			{Name: "Current", Value: fmt.Sprintf("%.2f", alert.CurrentValue), Inline: true},
			{Name: "Threshold", Value: fmt.Sprintf("%.2f", alert.ThresholdValue), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Usage Sentinel"},
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
	}

	_, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// HealthCheck verifies the bot token by fetching its own user.
func (d *Discord) HealthCheck(ctx context.Context) bool {
	_, err := d.session.User("@me", discordgo.WithContext(ctx))
	return err == nil
}

func discordColor(s model.Severity) int {
	switch s {
	case model.SeverityWarning:
		return 0xff9900
	case model.SeverityCritical:
		return 0xff0000
	default:
		return 0x36a64f
	}
}
