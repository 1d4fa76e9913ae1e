package engine

import (
	"context"
	"fmt"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// Evaluator matches incoming samples against active alert rules.
//
// Rules are selected by metric name only: the declared aggregation, time
// window and tag filters are stored with the rule but do not gate
// evaluation, because each evaluation runs against a single incoming
// sample rather than a windowed aggregate.
type Evaluator struct {
	rules     RuleStore
	lifecycle *Lifecycle
	logger    *zap.Logger
}

func NewEvaluator(rules RuleStore, lifecycle *Lifecycle, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:     rules,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// EvaluateMetric fans one sample out over the organization's active
// rules. A failure on one rule is logged and does not stop the others.
func (e *Evaluator) EvaluateMetric(ctx context.Context, metric *storage.Metric) error {
	rules, err := e.rules.ActiveRulesForMetric(ctx, metric.OrganizationID, metric.MetricName)
	if err != nil {
		return fmt.Errorf("failed to load rules for %s: %w", metric.MetricName, err)
	}

	for _, rule := range rules {
		if err := e.evaluateRule(ctx, rule, metric); err != nil {
			e.logger.Error("Rule evaluation failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("metric_name", metric.MetricName),
				zap.Error(err))
		}
	}

	return nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *storage.AlertRule, metric *storage.Metric) error {
	matched := firstMatch(rule.Conditions, metric.Value)
	if matched == nil {
		return e.rules.MarkRuleEvaluated(ctx, rule.ID, false)
	}

	alerted, err := e.lifecycle.Trigger(ctx, rule, metric, *matched)
	if err != nil {
		return err
	}

	return e.rules.MarkRuleEvaluated(ctx, rule.ID, alerted)
}

// firstMatch walks conditions in declaration order and returns the first
// one the value satisfies. First match wins even when a later condition
// carries a more severe level; declaration order is the tie-break.
func firstMatch(conditions []storage.AlertCondition, value float64) *storage.AlertCondition {
	for i := range conditions {
		if conditionHolds(conditions[i].Operator, value, conditions[i].Value) {
			return &conditions[i]
		}
	}
	return nil
}

func conditionHolds(operator string, value, threshold float64) bool {
	switch operator {
	case storage.OpGreaterThan:
		return value > threshold
	case storage.OpGreaterOrEqual:
		return value >= threshold
	case storage.OpLessThan:
		return value < threshold
	case storage.OpLessOrEqual:
		return value <= threshold
	case storage.OpEqual:
		return value == threshold
	case storage.OpNotEqual:
		return value != threshold
	default:
		return false
	}
}
