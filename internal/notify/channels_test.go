package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleNotification(channelType string, config map[string]string) Notification {
	return Notification{
		Alert: &storage.ActiveAlert{
			ID:               42,
			RuleID:           7,
			AlertKey:         "7:web-1:cpu_usage",
			Title:            "high cpu - web-1",
			Description:      "cpu_usage breached 90",
			Severity:         storage.SeverityCritical,
			TriggerValue:     95,
			TriggerTimestamp: time.Unix(1750000000, 0),
		},
		Rule: &storage.AlertRule{
			ID:             7,
			OrganizationID: "org-1",
			RuleName:       "high cpu",
		},
		Metric: &storage.Metric{
			OrganizationID: "org-1",
			MetricName:     "cpu_usage",
			Source:         "web-1",
			Value:          95,
			Timestamp:      time.Unix(1750000000, 0),
		},
		Condition: storage.AlertCondition{
			Operator: storage.OpGreaterThan,
			Value:    90,
			Severity: storage.SeverityCritical,
		},
		Channel: storage.NotificationChannelConfig{Type: channelType, Config: config},
	}
}

func TestWebhookChannelPostsPayload(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.Client(), zap.NewNop())
	n := sampleNotification("webhook", map[string]string{
		"url":         srv.URL,
		"auth_header": "Bearer token-123",
	})

	require.NoError(t, ch.Send(context.Background(), n))

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "alert.triggered", payload.Event)
	assert.Equal(t, "high cpu - web-1", payload.Title)
	assert.Equal(t, int64(7), payload.RuleID)
	assert.Equal(t, 95.0, payload.TriggerValue)
	assert.Equal(t, 90.0, payload.Threshold)
	assert.NotEmpty(t, payload.DeliveryID)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, payload.DeliveryID, gotHeaders.Get("X-Delivery-ID"))
	assert.Equal(t, "Bearer token-123", gotHeaders.Get("Authorization"))
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.Client(), zap.NewNop())
	n := sampleNotification("webhook", map[string]string{"url": srv.URL})

	err := ch.Send(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookChannelRequiresURL(t *testing.T) {
	ch := NewWebhookChannel(nil, zap.NewNop())
	err := ch.Send(context.Background(), sampleNotification("webhook", nil))
	require.Error(t, err)
}

func TestSlackChannelFormatsMessage(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.Client(), zap.NewNop())
	n := sampleNotification("slack", map[string]string{"webhook_url": srv.URL})

	require.NoError(t, ch.Send(context.Background(), n))

	assert.Contains(t, got.Text, "high cpu - web-1")
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "danger", got.Attachments[0].Color)
	assert.Equal(t, int64(1750000000), got.Attachments[0].Ts)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, "danger", severityColor("critical"))
	assert.Equal(t, "danger", severityColor("high"))
	assert.Equal(t, "warning", severityColor("warning"))
	assert.Equal(t, "warning", severityColor("medium"))
	assert.Equal(t, "good", severityColor("low"))
}
