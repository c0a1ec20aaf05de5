// Package slack sends finished incident briefs to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/traceback/internal/triage"
)

const (
	maxBriefLen    = 2900
	maxTitleLen    = 140
	maxListedItems = 10
	httpTimeout    = 10 * time.Second
)

// Notifier sends triage results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
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

// Send posts a triage result to the configured Slack webhook.
func (n *Notifier) Send(ctx context.Context, result *triage.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(result))
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

	n.logger.Info(ctx, "slack notification sent", "triage_id", result.ID, "bytes", len(body))
	return nil
}

func buildMessage(r *triage.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			fieldsBlock(r),
			{"type": "divider"},
			impactBlock(r),
			{"type": "divider"},
			briefBlock(r),
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Result) map[string]any {
	title := "Incident triaged"
	if r.Status == triage.StatusDegraded {
		title = "Incident triaged (degraded)"
	}
	text := fmt.Sprintf("%s %s: %s", priorityEmoji(r.Status, r.Priority), title, truncate(oneLine(r.Question), maxTitleLen))

	return map[string]any{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": text},
	}
}

func fieldsBlock(r *triage.Result) map[string]any {
	priority := r.Priority
	if priority == "" {
		priority = "n/a"
	}
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Status:* %s", r.Status)),
		mrkdwn(fmt.Sprintf("*Priority:* %s", priority)),
		mrkdwn(fmt.Sprintf("*Duration:* %.1fs", r.Duration)),
		mrkdwn(fmt.Sprintf("*Model:* %s", shortModel(r.Model))),
		mrkdwn(fmt.Sprintf("*Tokens:* %d", r.TokensUsed())),
		mrkdwn(fmt.Sprintf("*Blast radius:* %d tables", len(r.BlastRadius))),
	}
	return map[string]any{"type": "section", "fields": fields}
}

func impactBlock(r *triage.Result) map[string]any {
	var b strings.Builder
	b.WriteString("*Blast radius*\n")
	b.WriteString(bulletList(r.BlastRadius, "_No downstream tables affected._"))
	b.WriteString("\n*Dashboards*\n")
	b.WriteString(bulletList(r.Dashboards, "_None._"))
	if r.Error != "" {
		b.WriteString("\n*Errors*\n")
		b.WriteString(truncate(r.Error, 500))
	}
	return map[string]any{"type": "section", "text": mrkdwn(b.String())}
}

func briefBlock(r *triage.Result) map[string]any {
	text := truncate(r.Brief, maxBriefLen)
	if text == "" {
		text = "_No brief available._"
	}
	return map[string]any{"type": "section", "text": mrkdwn(fmt.Sprintf("*Incident brief*\n\n%s", text))}
}

func contextBlock(r *triage.Result) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn(fmt.Sprintf("traceback • incident %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC"))),
		},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for i, it := range items {
		if i == maxListedItems {
			fmt.Fprintf(&b, "• …and %d more\n", len(items)-maxListedItems)
			break
		}
		fmt.Fprintf(&b, "• `%s`\n", it)
	}
	return b.String()
}

func priorityEmoji(status triage.Status, priority string) string {
	if status == triage.StatusDegraded {
		return "\U0001f534" // red circle
	}
	switch strings.ToLower(priority) {
	case "critical", "high":
		return "\U0001f534"
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
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
