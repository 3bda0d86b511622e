package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Discord rejects webhook messages longer than this many characters.
const discordMaxContent = 2000

var (
	ErrNoWebhook   = errors.New("webhook URL is not set")
	ErrRateLimited = errors.New("webhook rate limited")
)

// Notifier delivers a human-readable message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// DiscordNotifier posts transfer outcomes to a Discord channel webhook.
type DiscordNotifier struct {
	webhookURL string
	username   string
	client     *http.Client
}

var _ Notifier = (*DiscordNotifier)(nil)

func NewDiscordNotifier(webhookURL, username string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   username,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.webhookURL == "" {
		return ErrNoWebhook
	}

	body, err := json.Marshal(discordMessage{Content: truncate(content, discordMaxContent), Username: d.username})
	if err != nil {
		return fmt.Errorf("failed to marshal discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build discord request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post discord message: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit-1]) + "…"
}
