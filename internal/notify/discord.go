package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender posts messages to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     defaultHTTPClient(),
	}
}

// Send posts the message with the title in bold. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
