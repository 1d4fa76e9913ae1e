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

// SMSChannel delivers short alert texts through an HTTP SMS gateway. The
// destination number comes from the rule's channel config ("phone").
type SMSChannel struct {
	gatewayURL string
	client     *http.Client
	logger     *zap.Logger
}

func NewSMSChannel(gatewayURL string, client *http.Client, logger *zap.Logger) *SMSChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSChannel{gatewayURL: gatewayURL, client: client, logger: logger}
}

func (s *SMSChannel) Type() string { return "sms" }

func (s *SMSChannel) Send(ctx context.Context, n Notification) error {
	if s.gatewayURL == "" {
		return fmt.Errorf("sms gateway URL not configured")
	}
	phone := n.Channel.Config["phone"]
	if phone == "" {
		return fmt.Errorf("sms channel config missing 'phone'")
	}

	text := fmt.Sprintf("[%s] %s: %s is %g (threshold %s %g)",
		n.Condition.Severity,
		n.Rule.RuleName,
		n.Metric.MetricName,
		n.Alert.TriggerValue,
		n.Condition.Operator,
		n.Condition.Value,
	)
	// Keep within a single SMS segment.
	if len(text) > 160 {
		text = text[:157] + "..."
	}

	body, err := json.Marshal(map[string]string{
		"to":      phone,
		"message": text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	return nil
}
