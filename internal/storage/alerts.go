package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// UpsertActiveAlert inserts a new active alert, or — when an active row
// for the same alert key already exists — updates its last_seen, trigger
// value, trigger timestamp and trigger metrics in place. The conflict
// target is the partial unique index on (alert_key) WHERE status='active',
// so check-then-insert races collapse into a single row. Returns the row
// id and whether a new incident was created.
func (c *PostgresClient) UpsertActiveAlert(ctx context.Context, alert *ActiveAlert) (int64, bool, error) {
	query := `
		INSERT INTO active_alerts (
			organization_id, rule_id, alert_key, title, description,
			severity, trigger_value, trigger_timestamp, trigger_metrics,
			status, first_seen, last_seen
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10, $10)
		ON CONFLICT (alert_key) WHERE status = 'active'
		DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			trigger_value = EXCLUDED.trigger_value,
			trigger_timestamp = EXCLUDED.trigger_timestamp,
			trigger_metrics = EXCLUDED.trigger_metrics
		RETURNING id, first_seen, (xmax = 0) AS inserted
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	triggerMetrics := alert.TriggerMetrics
	if len(triggerMetrics) == 0 {
		triggerMetrics = []byte("{}")
	}

	now := time.Now()
	var inserted bool
	err := c.pool.QueryRow(
		ctx,
		query,
		alert.OrganizationID,
		alert.RuleID,
		alert.AlertKey,
		alert.Title,
		alert.Description,
		alert.Severity,
		alert.TriggerValue,
		alert.TriggerTimestamp,
		triggerMetrics,
		now,
	).Scan(&alert.ID, &alert.FirstSeen, &inserted)

	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert active alert: %w", err)
	}

	alert.Status = AlertStatusActive
	alert.LastSeen = now

	return alert.ID, inserted, nil
}

// TouchActiveAlert updates an existing active alert for the key without
// ever creating one. Used while the owning rule is in cooldown: repeat
// breaches of an open incident still refresh it, but no new incident may
// start. Returns false when no active row exists for the key.
func (c *PostgresClient) TouchActiveAlert(
	ctx context.Context,
	alertKey string,
	triggerValue float64,
	triggerTimestamp time.Time,
	triggerMetrics []byte,
) (int64, bool, error) {
	query := `
		UPDATE active_alerts
		SET last_seen = now(),
		    trigger_value = $2,
		    trigger_timestamp = $3,
		    trigger_metrics = $4
		WHERE alert_key = $1
		  AND status = 'active'
		RETURNING id
	`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if len(triggerMetrics) == 0 {
		triggerMetrics = []byte("{}")
	}

	var id int64
	err := c.pool.QueryRow(ctx, query, alertKey, triggerValue, triggerTimestamp, triggerMetrics).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to touch active alert: %w", err)
	}

	return id, true, nil
}

// LatestAlertTime returns when the rule last opened an incident, for the
// coarse per-rule cooldown check. Nil when the rule has never fired.
func (c *PostgresClient) LatestAlertTime(ctx context.Context, ruleID int64) (*time.Time, error) {
	query := `
		SELECT first_seen
		FROM active_alerts
		WHERE rule_id = $1
		ORDER BY first_seen DESC
		LIMIT 1
	`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var t time.Time
	err := c.pool.QueryRow(ctx, query, ruleID).Scan(&t)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest alert time: %w", err)
	}

	return &t, nil
}

// GetActiveAlerts lists open incidents for an organization, newest first.
func (c *PostgresClient) GetActiveAlerts(ctx context.Context, organizationID string) ([]*ActiveAlert, error) {
	query := `
		SELECT id, organization_id, rule_id, alert_key, title, description,
		       severity, trigger_value, trigger_timestamp, trigger_metrics,
		       status, first_seen, last_seen
		FROM active_alerts
		WHERE organization_id = $1
		  AND status = 'active'
		ORDER BY last_seen DESC
		LIMIT 500
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*ActiveAlert
	for rows.Next() {
		var a ActiveAlert
		if err := rows.Scan(
			&a.ID,
			&a.OrganizationID,
			&a.RuleID,
			&a.AlertKey,
			&a.Title,
			&a.Description,
			&a.Severity,
			&a.TriggerValue,
			&a.TriggerTimestamp,
			&a.TriggerMetrics,
			&a.Status,
			&a.FirstSeen,
			&a.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan active alert: %w", err)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// ResolveAlert transitions an alert to resolved. Resolution is an operator
// action; the row is kept as history and the alert key becomes free for a
// future incident.
func (c *PostgresClient) ResolveAlert(ctx context.Context, organizationID string, alertID int64) error {
	query := `
		UPDATE active_alerts
		SET status = 'resolved'
		WHERE id = $1
		  AND organization_id = $2
		  AND status = 'active'
	`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := c.pool.Exec(ctx, query, alertID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("alert %d not found or already resolved", alertID)
	}

	c.logger.Info("Resolved alert",
		zap.Int64("alert_id", alertID),
		zap.String("organization_id", organizationID))

	return nil
}

// CountActiveBySeverity returns how many open incidents exist per
// severity. Absent severities simply have no entry.
func (c *PostgresClient) CountActiveBySeverity(ctx context.Context, organizationID string) (map[string]int, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM active_alerts
		WHERE organization_id = $1
		  AND status = 'active'
		GROUP BY severity
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[severity] = count
	}

	return counts, rows.Err()
}
