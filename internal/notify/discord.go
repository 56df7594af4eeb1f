package notify

import (
	"context"
	"net/http"
	"strings"
)

// Embed colours.
const (
	colorSale  = 0x2ecc71
	colorAlert = 0xe74c3c
)

// DiscordSender posts marketplace notifications to a Discord webhook as a
// single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed. Halts and other alerts are coloured red, everything
// else green. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := colorSale
	if strings.Contains(strings.ToLower(title), "halt") {
		color = colorAlert
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: "groupmarket",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: color}},
	}, nil)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
