// Package engine implements the metric ingestion path: every accepted
// sample is persisted and then evaluated in-line against the
// organization's active alert rules.
package engine

import (
	"context"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
)

// MetricStore is the durable append surface for measurements.
type MetricStore interface {
	SaveMetric(ctx context.Context, m *storage.Metric) error
	BatchSaveMetrics(ctx context.Context, metrics []*storage.Metric) error
}

// RuleStore loads applicable rules and records evaluation statistics.
// MarkRuleEvaluated must increment counters atomically on the store side.
type RuleStore interface {
	ActiveRulesForMetric(ctx context.Context, organizationID, metricName string) ([]*storage.AlertRule, error)
	MarkRuleEvaluated(ctx context.Context, ruleID int64, alerted bool) error
}

// AlertStore provides the atomic alert operations the lifecycle needs.
// UpsertActiveAlert must be a single conditional insert-or-update keyed on
// (alert_key, status=active); TouchActiveAlert must only ever update.
type AlertStore interface {
	UpsertActiveAlert(ctx context.Context, alert *storage.ActiveAlert) (id int64, created bool, err error)
	TouchActiveAlert(ctx context.Context, alertKey string, triggerValue float64, triggerTimestamp time.Time, triggerMetrics []byte) (id int64, found bool, err error)
	LatestAlertTime(ctx context.Context, ruleID int64) (*time.Time, error)
}

// Notifier fans a newly created alert out to the rule's channels. Send
// failures stay inside the notifier; Dispatch never reports them.
type Notifier interface {
	Dispatch(ctx context.Context, rule *storage.AlertRule, alert *storage.ActiveAlert, metric *storage.Metric, condition storage.AlertCondition)
}
