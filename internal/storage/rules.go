package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CreateAlertRule validates and persists a new rule, returning its id.
func (c *PostgresClient) CreateAlertRule(ctx context.Context, rule *AlertRule) (int64, error) {
	if err := rule.Validate(); err != nil {
		return 0, err
	}

	queryJSON, err := json.Marshal(rule.Query)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metric query: %w", err)
	}
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal notification channels: %w", err)
	}

	query := `
		INSERT INTO alert_rules (
			organization_id, rule_name, description, category,
			metric_query, conditions, evaluation_interval_sec,
			alert_cooldown_sec, notification_channels, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cooldown := rule.AlertCooldownSec
	if cooldown == 0 {
		cooldown = 300
	}
	interval := rule.EvaluationIntervalSec
	if interval == 0 {
		interval = 60
	}

	err = c.pool.QueryRow(
		ctx,
		query,
		rule.OrganizationID,
		rule.RuleName,
		rule.Description,
		rule.Category,
		queryJSON,
		conditionsJSON,
		interval,
		cooldown,
		channelsJSON,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt)

	if err != nil {
		return 0, fmt.Errorf("failed to create alert rule: %w", err)
	}

	c.logger.Info("Created alert rule",
		zap.Int64("rule_id", rule.ID),
		zap.String("organization_id", rule.OrganizationID),
		zap.String("rule_name", rule.RuleName))

	return rule.ID, nil
}

// ActiveRulesForMetric loads every active rule of the organization whose
// metric query names the given metric. This is the only applicability
// filter on the evaluation path.
func (c *PostgresClient) ActiveRulesForMetric(
	ctx context.Context,
	organizationID string,
	metricName string,
) ([]*AlertRule, error) {
	query := `
		SELECT id, organization_id, rule_name, description, category,
		       metric_query, conditions, evaluation_interval_sec,
		       alert_cooldown_sec, notification_channels, is_active,
		       evaluation_count, alert_count, last_evaluated, created_at
		FROM alert_rules
		WHERE organization_id = $1
		  AND is_active = true
		  AND metric_query->>'metric_name' = $2
		ORDER BY id
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, organizationID, metricName)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*AlertRule
	for rows.Next() {
		var r AlertRule
		var queryJSON, conditionsJSON, channelsJSON []byte
		if err := rows.Scan(
			&r.ID,
			&r.OrganizationID,
			&r.RuleName,
			&r.Description,
			&r.Category,
			&queryJSON,
			&conditionsJSON,
			&r.EvaluationIntervalSec,
			&r.AlertCooldownSec,
			&channelsJSON,
			&r.IsActive,
			&r.EvaluationCount,
			&r.AlertCount,
			&r.LastEvaluated,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		if err := json.Unmarshal(queryJSON, &r.Query); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metric query for rule %d: %w", r.ID, err)
		}
		if err := json.Unmarshal(conditionsJSON, &r.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions for rule %d: %w", r.ID, err)
		}
		if err := json.Unmarshal(channelsJSON, &r.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels for rule %d: %w", r.ID, err)
		}
		rules = append(rules, &r)
	}

	return rules, rows.Err()
}

// MarkRuleEvaluated bumps the rule's evaluation counters atomically in a
// single UPDATE, never read-then-write, so concurrent evaluations cannot
// lose increments.
func (c *PostgresClient) MarkRuleEvaluated(ctx context.Context, ruleID int64, alerted bool) error {
	query := `
		UPDATE alert_rules
		SET evaluation_count = evaluation_count + 1,
		    alert_count = alert_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_evaluated = now()
		WHERE id = $1
	`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := c.pool.Exec(ctx, query, ruleID, alerted); err != nil {
		return fmt.Errorf("failed to mark rule evaluated: %w", err)
	}

	return nil
}
