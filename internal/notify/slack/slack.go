// Package slack posts report lifecycle notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/grievance/internal/report"
)

const (
	maxCommentLen = 1500
	httpTimeout   = 10 * time.Second
)

// Notifier posts transition events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
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

// Notify implements report.Notifier. Reporter identity and the report
// description are never sent.
func (n *Notifier) Notify(ctx context.Context, ev *report.Event) error {
	if n.webhookURL == "" || ev == nil || ev.Report == nil {
		return nil
	}

	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "report_id", ev.Report.ID, "to_status", ev.ToStatus.Code)
	return nil
}

func buildMessage(ev *report.Event) map[string]any {
	blocks := []map[string]any{
		headerBlock(ev),
		fieldsBlock(ev),
	}
	if ev.Comment != "" {
		blocks = append(blocks, commentBlock(ev))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(ev))
	return map[string]any{"blocks": blocks}
}

func headerBlock(ev *report.Event) map[string]any {
	text := fmt.Sprintf("%s Report %s: %s", statusEmoji(ev), ev.Report.Code, ev.ToStatus.Label)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(ev *report.Event) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*From:* %s", ev.FromStatus.Label),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*To:* %s", ev.ToStatus.Label),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Organization:* %s", ev.Report.OrganizationID),
		},
	}
	if ev.Filter != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Filter:* %s", ev.Filter.Label),
		})
	}
	if ev.Report.AssignedDepartmentID != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Department:* %s", *ev.Report.AssignedDepartmentID),
		})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func commentBlock(ev *report.Event) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Comment*\n\n%s", truncate(ev.Comment, maxCommentLen)),
		},
	}
}

func contextBlock(ev *report.Event) map[string]any {
	ts := ev.Report.UpdatedAt
	if ts.IsZero() {
		ts = ev.Report.CreatedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("grievance • report %s • by %s • %s", ev.Report.ID, ev.ActorID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(ev *report.Event) string {
	switch {
	case ev.Report.IsSpam:
		return "\U0001f6ab" // no entry
	case ev.ToStatus.Code == report.StatusArchived:
		return "⚪" // white circle
	case ev.Filter != nil && ev.Filter.Code == report.FilterAdmitted:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

var _ report.Notifier = (*Notifier)(nil)
