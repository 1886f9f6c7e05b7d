// Package notify delivers alert notifications to external channels. The
// alert pipeline persists first and notifies second, so implementations
// here never retry: a failed delivery is logged and recorded by the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

const webhookTimeout = 10 * time.Second

// Discord embed sidebar colors per severity.
const (
	colorCritical = 0xE74C3C // red
	colorWarning  = 0xE67E22 // orange
	colorProfit   = 0x2ECC71 // green
	colorInfo     = 0x3498DB // blue
	colorNeutral  = 0x95A5A6 // grey
)

// Discord posts one embed per notification to a webhook URL.
type Discord struct {
	webhookURL string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewDiscord creates the webhook notifier.
func NewDiscord(webhookURL string, log zerolog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: webhookTimeout},
		log:        log.With().Str("component", "discord").Logger(),
	}
}

// Name identifies the delivery channel on receipts.
func (d *Discord) Name() string { return "discord" }

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Notify posts the notification. Any non-2xx response is an error; the
// caller decides what to record.
func (d *Discord) Notify(ctx context.Context, n domain.Notification) error {
	if d.webhookURL == "" {
		return fmt.Errorf("discord webhook URL is not configured")
	}

	payload := webhookPayload{Embeds: []embed{buildEmbed(n)}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.log.Debug().
		Str("symbol", n.Symbol).
		Str("severity", n.Severity).
		Msg("Notification delivered")
	return nil
}

func buildEmbed(n domain.Notification) embed {
	e := embed{
		Title:       n.Title,
		Description: n.Message,
		Color:       severityColor(n.Severity),
		Timestamp:   n.Time.UTC().Format(time.RFC3339),
	}
	if n.Price > 0 {
		e.Fields = append(e.Fields, embedField{
			Name:   "Price",
			Value:  fmt.Sprintf("%.2f", n.Price),
			Inline: true,
		})
	}
	if n.Symbol != "" {
		e.Fields = append(e.Fields, embedField{
			Name:   "Symbol",
			Value:  n.Symbol,
			Inline: true,
		})
	}
	return e
}

func severityColor(severity string) int {
	switch severity {
	case "critical":
		return colorCritical
	case "warning":
		return colorWarning
	case "profit":
		return colorProfit
	case "info":
		return colorInfo
	default:
		return colorNeutral
	}
}
