package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SlackChannel posts alerts to a Slack incoming webhook. The webhook URL
// comes from the rule's channel config ("webhook_url").
type SlackChannel struct {
	client *http.Client
	logger *zap.Logger
}

func NewSlackChannel(client *http.Client, logger *zap.Logger) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackChannel{client: client, logger: logger}
}

func (s *SlackChannel) Type() string { return "slack" }

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func severityColor(severity string) string {
	switch severity {
	case "critical", "high":
		return "danger"
	case "warning", "medium":
		return "warning"
	default:
		return "good"
	}
}

func (s *SlackChannel) Send(ctx context.Context, n Notification) error {
	webhookURL := n.Channel.Config["webhook_url"]
	if webhookURL == "" {
		return fmt.Errorf("slack channel config missing 'webhook_url'")
	}

	msg := slackMessage{
		Text: fmt.Sprintf(":rotating_light: *%s*", n.Alert.Title),
		Attachments: []slackAttachment{{
			Color: severityColor(n.Condition.Severity),
			Ts:    n.Alert.TriggerTimestamp.Unix(),
			Fields: []slackField{
				{Title: "Severity", Value: n.Condition.Severity, Short: true},
				{Title: "Metric", Value: n.Metric.MetricName, Short: true},
				{Title: "Source", Value: n.Metric.Source, Short: true},
				{Title: "Value", Value: fmt.Sprintf("%g (threshold %s %g)", n.Alert.TriggerValue, n.Condition.Operator, n.Condition.Value), Short: true},
				{Title: "Description", Value: n.Alert.Description, Short: false},
			},
		}},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}
