// Package notify sends run outcomes to a Slack incoming webhook. The
// notifier degrades to a no-op when unconfigured so callers never need
// to guard their calls.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tdalton/dbrecon/internal/logging"
)

const (
	colorGreen  = "#36a64f"
	colorYellow = "#ffc107"
	colorRed    = "#dc3545"

	maxErrorLen = 500
)

// SlackConfig configures the webhook notifier.
type SlackConfig struct {
	Enabled    bool
	WebhookURL string
	Channel    string
	Username   string
}

// Field is one key/value entry in an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Attachment is a colored message block.
type Attachment struct {
	Color  string  `json:"color"`
	Title  string  `json:"title"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Ts     int64   `json:"ts"`
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Notifier posts run events to Slack.
type Notifier struct {
	config *SlackConfig
	client *http.Client
}

// New creates a notifier. A nil config produces a disabled notifier.
func New(cfg *SlackConfig) *Notifier {
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether notifications will actually be sent.
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunCompleted announces a clean run.
func (n *Notifier) RunCompleted(runID string, tables int, rowsCompared int64, duration time.Duration) error {
	return n.send(":white_check_mark:", Attachment{
		Color: colorGreen,
		Title: "Reconciliation Completed",
		Fields: []Field{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Tables", Value: fmt.Sprintf("%d", tables), Short: true},
			{Title: "Rows Compared", Value: fmt.Sprintf("%d", rowsCompared), Short: true},
			{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
		},
	})
}

// DiscrepanciesFound announces a run that finished but found drift.
func (n *Notifier) DiscrepanciesFound(runID string, tablesWithIssues, totalDiscrepancies int, worstSeverity string, duration time.Duration) error {
	return n.send(":warning:", Attachment{
		Color: colorYellow,
		Title: "Discrepancies Found",
		Fields: []Field{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Tables Affected", Value: fmt.Sprintf("%d", tablesWithIssues), Short: true},
			{Title: "Discrepancies", Value: fmt.Sprintf("%d", totalDiscrepancies), Short: true},
			{Title: "Worst Severity", Value: worstSeverity, Short: true},
			{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
		},
	})
}

// RunAborted announces a run that could not complete.
func (n *Notifier) RunAborted(runID string, cause error, duration time.Duration) error {
	msg := "Unknown error"
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen] + "..."
		}
	}
	return n.send(":x:", Attachment{
		Color: colorRed,
		Title: "Reconciliation Aborted",
		Fields: []Field{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
			{Title: "Error", Value: msg},
		},
	})
}

func (n *Notifier) send(icon string, att Attachment) error {
	if !n.IsEnabled() {
		return nil
	}
	att.Ts = time.Now().Unix()

	msg := SlackMessage{
		Channel:     n.config.Channel,
		Username:    n.config.Username,
		IconEmoji:   icon,
		Attachments: []Attachment{att},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	resp, err := n.client.Post(n.config.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	logging.Debug("Slack notification sent: %s", att.Title)
	return nil
}
