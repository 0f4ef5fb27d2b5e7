package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"mmr-engine/internal/engine"
)

const (
	colorBlue = 3447003 // 0x3498DB - pass summaries

	defaultWebhookTimeout = 10 * time.Second

	// Max retries for rate limiting
	maxRetries = 3
)

// WebhookPayload represents a Discord webhook message.
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed.
type Embed struct {
	Title  string       `json:"title,omitempty"`
	Color  int          `json:"color,omitempty"`
	Fields []EmbedField `json:"fields,omitempty"`
	Footer *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewPassSummaryPayload builds the per-pass summary message.
func NewPassSummaryPayload(family string, stats engine.PassStats) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: fmt.Sprintf("📈 MMR pass complete (%s)", family),
				Color: colorBlue,
				Fields: []EmbedField{
					{
						Name:   "Matches",
						Value:  formatNumber(stats.Matches),
						Inline: true,
					},
					{
						Name:   "Mean Error",
						Value:  fmt.Sprintf("%.4f", stats.MeanError),
						Inline: true,
					},
					{
						Name:   "Duration",
						Value:  stats.Duration.Round(time.Second).String(),
						Inline: true,
					},
				},
				Footer: &EmbedFooter{
					Text: fmt.Sprintf("Checkpoint %d · %d skipped", stats.Checkpoint, stats.Skipped),
				},
			},
		},
	}
}

// WebhookClient sends pass summaries to a Discord webhook.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new WebhookClient.
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

// PassComplete implements engine.NotifyFunc for one rating family.
func (c *WebhookClient) PassComplete(family string) engine.NotifyFunc {
	return func(ctx context.Context, stats engine.PassStats) error {
		return c.sendPayload(ctx, NewPassSummaryPayload(family, stats))
	}
}

// sendPayload sends a webhook payload with retry on rate limiting.
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Success - Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		// Rate limited - wait and retry
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			waitDuration := time.Second
			if retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					waitDuration = time.Duration(seconds) * time.Second
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832").
func formatNumber(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	}

	s := strconv.Itoa(n)
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}
