package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SaveBaseline persists a freshly computed baseline. Older baselines for
// the same (metric, source, time frame) remain as history; consumers read
// the most recent row.
func (c *PostgresClient) SaveBaseline(ctx context.Context, b *PerformanceBaseline) error {
	query := `
		INSERT INTO performance_baselines (
			organization_id, metric_name, source, time_frame,
			mean_value, median_value, standard_deviation,
			percentile_95, percentile_99, min_value, max_value,
			upper_bound, lower_bound, sample_size, confidence_level,
			calculation_period_start, calculation_period_end, last_calculated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.pool.QueryRow(
		ctx,
		query,
		b.OrganizationID,
		b.MetricName,
		b.Source,
		b.TimeFrame,
		b.MeanValue,
		b.MedianValue,
		b.StandardDeviation,
		b.Percentile95,
		b.Percentile99,
		b.MinValue,
		b.MaxValue,
		b.UpperBound,
		b.LowerBound,
		b.SampleSize,
		b.ConfidenceLevel,
		b.CalculationPeriodStart,
		b.CalculationPeriodEnd,
		b.LastCalculated,
	).Scan(&b.ID)

	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}

	c.logger.Debug("Saved performance baseline",
		zap.Int64("baseline_id", b.ID),
		zap.String("metric_name", b.MetricName),
		zap.String("source", b.Source),
		zap.Int("sample_size", b.SampleSize))

	return nil
}

// SaveCapacityAnalysis appends one capacity planning run to history.
func (c *PostgresClient) SaveCapacityAnalysis(ctx context.Context, a *CapacityAnalysis) error {
	projectionJSON, err := json.Marshal(a.ProjectedUtilization)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	recommendationsJSON, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	query := `
		INSERT INTO capacity_analyses (
			organization_id, resource_type, resource_id,
			current_capacity, current_utilization, utilization_percentage,
			projected_growth_rate, forecast_period, projected_utilization,
			estimated_exhaustion_date, recommendations, analysis_date, data_window
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.pool.QueryRow(
		ctx,
		query,
		a.OrganizationID,
		a.ResourceType,
		a.ResourceID,
		a.CurrentCapacity,
		a.CurrentUtilization,
		a.UtilizationPercentage,
		a.ProjectedGrowthRate,
		a.ForecastPeriod,
		projectionJSON,
		a.EstimatedExhaustionDate,
		recommendationsJSON,
		a.AnalysisDate,
		a.DataWindow,
	).Scan(&a.ID)

	if err != nil {
		return fmt.Errorf("failed to save capacity analysis: %w", err)
	}

	return nil
}
