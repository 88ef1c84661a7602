// Package slack posts escalation notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/escalation"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

const (
	maxMessageLen = 3000
	maxTitleLen   = 150
	httpTimeout   = 10 * time.Second
)

// Notifier publishes escalation notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Publish is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Publish posts n to the configured webhook.
func (s *Notifier) Publish(ctx context.Context, n *escalation.Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(n))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info(ctx, "slack notification sent", "ticket_id", n.TicketID)
	return nil
}

func buildMessage(n *escalation.Notification) map[string]any {
	return map[string]any{
		"text": n.Subject,
		"blocks": []map[string]any{
			headerBlock(n),
			{"type": "divider"},
			fieldsBlock(n),
			messageBlock(n),
			contextBlock(n),
		},
	}
}

func headerBlock(n *escalation.Notification) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", priorityEmoji(n.Priority), truncate(n.Subject, maxTitleLen)),
		},
	}
}

func fieldsBlock(n *escalation.Notification) map[string]any {
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Ticket:* %s", n.TicketID)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", n.Priority)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Title:* %s", truncate(n.Title, maxTitleLen))},
			{"type": "mrkdwn", "text": fmt.Sprintf("*SLA:* %s", n.Window)},
		},
	}
}

func messageBlock(n *escalation.Notification) map[string]any {
	text := truncate(n.Message, maxMessageLen)
	if text == "" {
		text = "_No details._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(n *escalation.Notification) map[string]any {
	ts := n.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("priorityops • escalated %s", ts.UTC().Format("2006-01-02 15:04 UTC"))},
		},
	}
}

func priorityEmoji(p ticket.Priority) string {
	switch p {
	case ticket.PriorityCritical:
		return "\U0001f534" // red circle
	case ticket.PriorityHigh:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

// truncate caps s at limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
