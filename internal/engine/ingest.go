package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// Ingestor is the external-facing metric write surface. Each accepted
// sample is persisted, then evaluated synchronously against the
// organization's rules.
type Ingestor struct {
	metrics     MetricStore
	evaluator   *Evaluator
	evalTimeout time.Duration
	logger      *zap.Logger
}

func NewIngestor(metrics MetricStore, evaluator *Evaluator, evalTimeout time.Duration, logger *zap.Logger) *Ingestor {
	if evalTimeout <= 0 {
		evalTimeout = 10 * time.Second
	}
	return &Ingestor{
		metrics:     metrics,
		evaluator:   evaluator,
		evalTimeout: evalTimeout,
		logger:      logger,
	}
}

// RecordMetric validates and persists one sample, then evaluates it.
// Evaluation failures are logged, not returned: the measurement is
// already durable and must not appear lost to the caller.
func (i *Ingestor) RecordMetric(ctx context.Context, metric *storage.Metric) error {
	if err := metric.Validate(); err != nil {
		return err
	}

	if err := i.metrics.SaveMetric(ctx, metric); err != nil {
		return fmt.Errorf("failed to persist metric: %w", err)
	}

	i.evaluate(ctx, metric)

	return nil
}

// RecordMetricsBatch persists all samples in one durable operation, then
// evaluates them sequentially in array order. One sample's evaluation
// failure never prevents evaluation of the samples after it.
func (i *Ingestor) RecordMetricsBatch(ctx context.Context, metrics []*storage.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	for idx, m := range metrics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("metric %d: %w", idx, err)
		}
	}

	if err := i.metrics.BatchSaveMetrics(ctx, metrics); err != nil {
		return fmt.Errorf("failed to persist metric batch: %w", err)
	}

	for _, m := range metrics {
		i.evaluate(ctx, m)
	}

	return nil
}

func (i *Ingestor) evaluate(ctx context.Context, metric *storage.Metric) {
	evalCtx, cancel := context.WithTimeout(ctx, i.evalTimeout)
	defer cancel()

	if err := i.evaluator.EvaluateMetric(evalCtx, metric); err != nil {
		i.logger.Error("Metric evaluation failed",
			zap.String("metric_name", metric.MetricName),
			zap.String("source", metric.Source),
			zap.String("organization_id", metric.OrganizationID),
			zap.Error(err))
	}
}
