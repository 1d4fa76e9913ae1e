package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SaveSecurityEvent appends one security event. Events are never updated
// or deleted.
func (c *PostgresClient) SaveSecurityEvent(ctx context.Context, e *SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			event_id, organization_id, event_type, severity, category,
			title, source, user_id, source_ip, event_data, risk_score,
			event_timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	eventData := e.EventData
	if len(eventData) == 0 {
		eventData = []byte("{}")
	}

	err := c.pool.QueryRow(
		ctx,
		query,
		e.EventID,
		e.OrganizationID,
		e.EventType,
		e.Severity,
		e.Category,
		e.Title,
		e.Source,
		nullIfEmpty(e.UserID),
		nullIfEmpty(e.SourceIP),
		eventData,
		e.RiskScore,
		e.EventTimestamp,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		c.logger.Error("Failed to save security event",
			zap.Error(err),
			zap.String("event_type", e.EventType),
			zap.String("organization_id", e.OrganizationID))
		return fmt.Errorf("failed to save security event: %w", err)
	}

	c.logger.Debug("Saved security event",
		zap.Int64("id", e.ID),
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("severity", e.Severity))

	return nil
}

// CountRecentSecurityEvents returns how many events landed since the
// given time. Zero rows is simply zero, never an error.
func (c *PostgresClient) CountRecentSecurityEvents(
	ctx context.Context,
	organizationID string,
	since time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM security_events
		WHERE organization_id = $1
		  AND event_timestamp > $2
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int
	if err := c.pool.QueryRow(ctx, query, organizationID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}

	return count, nil
}
