package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookChannel posts a JSON payload to an arbitrary HTTP endpoint. The
// endpoint comes from the rule's channel config ("url"); an optional
// "auth_header" value is sent as Authorization.
type WebhookChannel struct {
	client *http.Client
	logger *zap.Logger
}

func NewWebhookChannel(client *http.Client, logger *zap.Logger) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{client: client, logger: logger}
}

func (w *WebhookChannel) Type() string { return "webhook" }

type webhookPayload struct {
	DeliveryID   string          `json:"delivery_id"`
	Event        string          `json:"event"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Severity     string          `json:"severity"`
	RuleID       int64           `json:"rule_id"`
	RuleName     string          `json:"rule_name"`
	AlertID      int64           `json:"alert_id"`
	AlertKey     string          `json:"alert_key"`
	MetricName   string          `json:"metric_name"`
	Source       string          `json:"source"`
	TriggerValue float64         `json:"trigger_value"`
	Threshold    float64         `json:"threshold"`
	Operator     string          `json:"operator"`
	TriggeredAt  time.Time       `json:"triggered_at"`
	Metric       json.RawMessage `json:"metric,omitempty"`
}

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	url := n.Channel.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel config missing 'url'")
	}

	metricJSON, _ := json.Marshal(n.Metric)
	payload := webhookPayload{
		DeliveryID:   uuid.NewString(),
		Event:        "alert.triggered",
		Title:        n.Alert.Title,
		Description:  n.Alert.Description,
		Severity:     n.Condition.Severity,
		RuleID:       n.Rule.ID,
		RuleName:     n.Rule.RuleName,
		AlertID:      n.Alert.ID,
		AlertKey:     n.Alert.AlertKey,
		MetricName:   n.Metric.MetricName,
		Source:       n.Metric.Source,
		TriggerValue: n.Alert.TriggerValue,
		Threshold:    n.Condition.Value,
		Operator:     n.Condition.Operator,
		TriggeredAt:  n.Alert.TriggerTimestamp,
		Metric:       metricJSON,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", payload.DeliveryID)
	if auth := n.Channel.Config["auth_header"]; auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("Webhook delivered",
		zap.String("delivery_id", payload.DeliveryID),
		zap.String("url", url))

	return nil
}
