package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetric() *Metric {
	return &Metric{
		OrganizationID: "org-1",
		MetricName:     "cpu_usage",
		Source:         "web-1",
		Value:          42.5,
		Timestamp:      time.Now(),
	}
}

func TestMetricValidate(t *testing.T) {
	require.NoError(t, validMetric().Validate())

	cases := []struct {
		name      string
		mutate    func(*Metric)
		wantField string
	}{
		{"missing org", func(m *Metric) { m.OrganizationID = "" }, "organization_id"},
		{"missing name", func(m *Metric) { m.MetricName = "" }, "metric_name"},
		{"missing source", func(m *Metric) { m.Source = "" }, "source"},
		{"nan value", func(m *Metric) { m.Value = math.NaN() }, "value"},
		{"infinite value", func(m *Metric) { m.Value = math.Inf(1) }, "value"},
		{"zero timestamp", func(m *Metric) { m.Timestamp = time.Time{} }, "timestamp"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMetric()
			tc.mutate(m)
			err := m.Validate()
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.wantField, validationErr.Field)
		})
	}
}

func validRule() *AlertRule {
	return &AlertRule{
		OrganizationID: "org-1",
		RuleName:       "high cpu",
		Query:          MetricQuery{MetricName: "cpu_usage"},
		Conditions: []AlertCondition{
			{Operator: OpGreaterThan, Value: 90, Severity: SeverityCritical},
		},
		Channels: []NotificationChannelConfig{
			{Type: "slack", Config: map[string]string{"webhook_url": "http://example.invalid"}},
		},
	}
}

func TestAlertRuleValidate(t *testing.T) {
	require.NoError(t, validRule().Validate())

	cases := []struct {
		name      string
		mutate    func(*AlertRule)
		wantField string
	}{
		{"missing org", func(r *AlertRule) { r.OrganizationID = "" }, "organization_id"},
		{"missing name", func(r *AlertRule) { r.RuleName = "" }, "rule_name"},
		{"missing metric name", func(r *AlertRule) { r.Query.MetricName = "" }, "metric_query.metric_name"},
		{"no conditions", func(r *AlertRule) { r.Conditions = nil }, "conditions"},
		{"bad operator", func(r *AlertRule) { r.Conditions[0].Operator = "contains" }, "conditions[0].operator"},
		{"missing severity", func(r *AlertRule) { r.Conditions[0].Severity = "" }, "conditions[0].severity"},
		{"nan threshold", func(r *AlertRule) { r.Conditions[0].Value = math.NaN() }, "conditions[0].value"},
		{"bad channel type", func(r *AlertRule) { r.Channels[0].Type = "pager" }, "notification_channels[0].type"},
		{"negative cooldown", func(r *AlertRule) { r.AlertCooldownSec = -1 }, "alert_cooldown_sec"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			err := r.Validate()
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.wantField, validationErr.Field)
		})
	}
}

func TestAlertKey(t *testing.T) {
	assert.Equal(t, "7:web-1:cpu_usage", AlertKey(7, "web-1", "cpu_usage"))
	// Distinct sources or metrics never collide.
	assert.NotEqual(t, AlertKey(7, "web-1", "cpu_usage"), AlertKey(7, "web-2", "cpu_usage"))
	assert.NotEqual(t, AlertKey(7, "web-1", "cpu_usage"), AlertKey(8, "web-1", "cpu_usage"))
}

func TestSecurityEventValidate(t *testing.T) {
	e := &SecurityEvent{
		OrganizationID: "org-1",
		EventType:      "login_failure",
		Severity:       SeverityMedium,
		Title:          "Repeated failed logins",
	}
	require.NoError(t, e.Validate())

	e.Title = ""
	err := e.Validate()
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "title", validationErr.Field)
}
