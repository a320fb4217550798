package failure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookAlerter posts records to a Slack-compatible incoming webhook.
type WebhookAlerter struct {
	url      string
	username string
	client   *http.Client
}

// WebhookOption configures a WebhookAlerter.
type WebhookOption func(*WebhookAlerter)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(a *WebhookAlerter) { a.client = c }
}

// WithUsername sets the display name of posted messages.
func WithUsername(name string) WebhookOption {
	return func(a *WebhookAlerter) { a.username = name }
}

// NewWebhookAlerter creates an alerter posting to url.
func NewWebhookAlerter(url string, opts ...WebhookOption) *WebhookAlerter {
	a := &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: DefaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Alert posts rec. It satisfies AlertFunc as a method value.
func (a *WebhookAlerter) Alert(ctx context.Context, rec Record) error {
	if a.url == "" {
		return ErrWebhookNotConfigured
	}

	payload, err := json.Marshal(buildSlackMessage(rec, a.username))
	if err != nil {
		return fmt.Errorf("failure: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failure: create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failure: send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}

func buildSlackMessage(rec Record, username string) slackMessage {
	icon, color := ":warning:", "warning"
	if rec.Severity == SeverityCritical {
		icon, color = ":rotating_light:", "danger"
	}

	fields := []slackField{
		{Title: "Severity", Value: rec.Severity.String(), Short: true},
		{Title: "Category", Value: rec.Category.String(), Short: true},
		{Title: "Type", Value: rec.ExceptionType, Short: true},
		{Title: "Error ID", Value: rec.ErrorID, Short: true},
	}
	if rec.Function != "" {
		fields = append(fields, slackField{Title: "Function", Value: rec.Function, Short: true})
	}
	if rec.WorkflowID != "" {
		fields = append(fields, slackField{Title: "Workflow", Value: rec.WorkflowID, Short: true})
	}
	if rec.SubjectURL != "" {
		fields = append(fields, slackField{Title: "Subject", Value: rec.SubjectURL})
	}

	return slackMessage{
		Text:      fmt.Sprintf("%s %s failure", rec.Severity, rec.Category),
		Username:  username,
		IconEmoji: icon,
		Attachments: []slackAttachment{{
			Color:     color,
			Title:     rec.Message,
			Fields:    fields,
			Footer:    "callguard",
			Timestamp: rec.Timestamp.Unix(),
		}},
	}
}
