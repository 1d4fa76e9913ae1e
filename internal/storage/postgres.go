package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(connectionURL string, logger *zap.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	// MaxConns comes from pool_max_conns in the connection URL.
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute
	config.ConnConfig.ConnectTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{
		pool:   pool,
		logger: logger,
	}, nil
}

func (c *PostgresClient) Close() {
	c.pool.Close()
}

func (c *PostgresClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.pool.Ping(ctx)
}

func (c *PostgresClient) GetPoolStats() *pgxpool.Stat {
	return c.pool.Stat()
}

func marshalTags(tags map[string]string) []byte {
	if len(tags) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// SaveMetric persists a single measurement and fills in its row id.
func (c *PostgresClient) SaveMetric(ctx context.Context, metric *Metric) error {
	query := `
		INSERT INTO metrics (organization_id, metric_name, metric_type, source, value, unit, timestamp, tags, aggregation_period)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.pool.QueryRow(
		ctx,
		query,
		metric.OrganizationID,
		metric.MetricName,
		metric.MetricType,
		metric.Source,
		metric.Value,
		metric.Unit,
		metric.Timestamp,
		marshalTags(metric.Tags),
		nullIfEmpty(metric.AggregationPeriod),
	).Scan(&metric.ID, &metric.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}

	return nil
}

// BatchSaveMetrics persists a batch of samples in one durable COPY
// operation. Either all rows land or none do.
func (c *PostgresClient) BatchSaveMetrics(ctx context.Context, metrics []*Metric) error {
	if len(metrics) == 0 {
		c.logger.Debug("No metrics to save")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows := make([][]any, 0, len(metrics))
	for _, metric := range metrics {
		rows = append(rows, []any{
			metric.OrganizationID,
			metric.MetricName,
			metric.MetricType,
			metric.Source,
			metric.Value,
			metric.Unit,
			metric.Timestamp,
			marshalTags(metric.Tags),
			nullIfEmpty(metric.AggregationPeriod),
		})
	}

	copyCount, err := c.pool.CopyFrom(
		ctx,
		pgx.Identifier{"metrics"},
		[]string{"organization_id", "metric_name", "metric_type", "source", "value", "unit", "timestamp", "tags", "aggregation_period"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		c.logger.Error("Failed to batch save metrics",
			zap.Error(err),
			zap.Int("attempted_count", len(metrics)))
		return fmt.Errorf("failed to copy metrics: %w", err)
	}

	c.logger.Debug("Batch saved metrics",
		zap.Int64("saved_count", copyCount),
		zap.Int("metrics_count", len(metrics)))

	return nil
}

// GetMetricsInRange returns samples for one metric stream ordered oldest
// first, which is what the statistical calculators expect.
func (c *PostgresClient) GetMetricsInRange(
	ctx context.Context,
	organizationID string,
	metricName string,
	source string,
	start time.Time,
	end time.Time,
) ([]*Metric, error) {
	query := `
		SELECT id, organization_id, metric_name, metric_type, source, value, unit, timestamp, tags, COALESCE(aggregation_period, ''), created_at
		FROM metrics
		WHERE organization_id = $1
		  AND metric_name = $2
		  AND source = $3
		  AND timestamp >= $4
		  AND timestamp <= $5
		ORDER BY timestamp ASC
	`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, organizationID, metricName, source, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		var m Metric
		var tags []byte
		if err := rows.Scan(
			&m.ID,
			&m.OrganizationID,
			&m.MetricName,
			&m.MetricType,
			&m.Source,
			&m.Value,
			&m.Unit,
			&m.Timestamp,
			&tags,
			&m.AggregationPeriod,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &m.Tags)
		}
		metrics = append(metrics, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metrics: %w", err)
	}

	return metrics, nil
}

// GetLatestMetricValue returns the most recent value for a metric stream.
// The second return is false when no sample exists.
func (c *PostgresClient) GetLatestMetricValue(
	ctx context.Context,
	organizationID string,
	metricName string,
	source string,
) (float64, bool, error) {
	query := `
		SELECT value
		FROM metrics
		WHERE organization_id = $1
		  AND metric_name = $2
		  AND source = $3
		ORDER BY timestamp DESC
		LIMIT 1
	`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var value float64
	err := c.pool.QueryRow(ctx, query, organizationID, metricName, source).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get latest metric: %w", err)
	}

	return value, true, nil
}

// DeleteOldMetrics drops samples older than the retention window and
// returns how many rows were removed.
func (c *PostgresClient) DeleteOldMetrics(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM metrics
		WHERE timestamp < $1
	`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-olderThan)
	result, err := c.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old metrics: %w", err)
	}

	return result.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
