package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

const defaultCooldown = 300 * time.Second

// Lifecycle owns alert deduplication and cooldown. A rule is in cooldown
// when any of its alerts was created within the rule's cooldown window;
// the check is per rule, not per alert key. While in cooldown, breaches of
// an already-open incident still refresh it, but no new incident may
// start.
type Lifecycle struct {
	alerts     AlertStore
	dispatcher Notifier
	logger     *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewLifecycle(alerts AlertStore, dispatcher Notifier, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Trigger handles a condition breach for one rule. Returns whether a new
// alert incident was created. Notification failures never surface here:
// the dispatcher isolates them per channel.
func (l *Lifecycle) Trigger(
	ctx context.Context,
	rule *storage.AlertRule,
	metric *storage.Metric,
	condition storage.AlertCondition,
) (bool, error) {
	alertKey := storage.AlertKey(rule.ID, metric.Source, metric.MetricName)
	triggerMetrics, _ := json.Marshal(metric)

	inCooldown, err := l.ruleInCooldown(ctx, rule)
	if err != nil {
		return false, err
	}

	if inCooldown {
		id, found, err := l.alerts.TouchActiveAlert(ctx, alertKey, metric.Value, metric.Timestamp, triggerMetrics)
		if err != nil {
			return false, fmt.Errorf("failed to refresh alert in cooldown: %w", err)
		}
		if found {
			l.logger.Debug("Refreshed open incident during cooldown",
				zap.Int64("alert_id", id),
				zap.Int64("rule_id", rule.ID),
				zap.String("alert_key", alertKey))
		} else {
			l.logger.Debug("Suppressed alert creation during cooldown",
				zap.Int64("rule_id", rule.ID),
				zap.String("alert_key", alertKey))
		}
		return false, nil
	}

	alert := &storage.ActiveAlert{
		OrganizationID:   rule.OrganizationID,
		RuleID:           rule.ID,
		AlertKey:         alertKey,
		Title:            fmt.Sprintf("%s - %s", rule.RuleName, metric.Source),
		Description:      describeBreach(rule, metric, condition),
		Severity:         condition.Severity,
		TriggerValue:     metric.Value,
		TriggerTimestamp: metric.Timestamp,
		TriggerMetrics:   triggerMetrics,
	}

	id, created, err := l.alerts.UpsertActiveAlert(ctx, alert)
	if err != nil {
		return false, fmt.Errorf("failed to upsert alert: %w", err)
	}

	if !created {
		// Lost the insert race or the incident already existed: the other
		// writer's row absorbed this breach, which is the converged outcome.
		l.logger.Debug("Updated existing incident",
			zap.Int64("alert_id", id),
			zap.String("alert_key", alertKey))
		return false, nil
	}

	l.logger.Info("Alert triggered",
		zap.Int64("alert_id", id),
		zap.Int64("rule_id", rule.ID),
		zap.String("alert_key", alertKey),
		zap.String("severity", condition.Severity),
		zap.Float64("value", metric.Value))

	l.dispatcher.Dispatch(ctx, rule, alert, metric, condition)

	return true, nil
}

func (l *Lifecycle) ruleInCooldown(ctx context.Context, rule *storage.AlertRule) (bool, error) {
	cooldown := time.Duration(rule.AlertCooldownSec) * time.Second
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	latest, err := l.alerts.LatestAlertTime(ctx, rule.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown: %w", err)
	}
	if latest == nil {
		return false, nil
	}

	return l.now().Sub(*latest) < cooldown, nil
}

func describeBreach(rule *storage.AlertRule, metric *storage.Metric, condition storage.AlertCondition) string {
	return fmt.Sprintf(
		"Metric %s from %s reported %g, breaching the %q threshold (%s %g).",
		metric.MetricName,
		metric.Source,
		metric.Value,
		condition.Severity,
		condition.Operator,
		condition.Value,
	)
}
