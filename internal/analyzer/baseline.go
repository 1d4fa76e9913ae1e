package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// ErrInsufficientData is returned when a calculation has no historical
// samples to work with. Nothing is written in that case.
var ErrInsufficientData = errors.New("insufficient historical data")

// BaselineStore is the persistence surface the calculator needs.
type BaselineStore interface {
	GetMetricsInRange(ctx context.Context, organizationID, metricName, source string, start, end time.Time) ([]*storage.Metric, error)
	SaveBaseline(ctx context.Context, b *storage.PerformanceBaseline) error
}

// BaselineCalculator builds statistical summaries of a metric's history
// and derives anomaly bounds from them.
type BaselineCalculator struct {
	store  BaselineStore
	logger *zap.Logger

	now func() time.Time
}

func NewBaselineCalculator(store BaselineStore, logger *zap.Logger) *BaselineCalculator {
	return &BaselineCalculator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// anomalyBoundSigma is how many standard deviations around the mean the
// anomaly bounds sit.
const anomalyBoundSigma = 2.5

func lookbackFor(timeFrame string) time.Duration {
	switch timeFrame {
	case "daily":
		return 30 * 24 * time.Hour
	case "weekly":
		return 90 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

func confidenceFor(sampleSize int) float64 {
	switch {
	case sampleSize < 30:
		return 70
	case sampleSize < 100:
		return 85
	case sampleSize < 1000:
		return 95
	default:
		return 99
	}
}

// Calculate computes and persists a new baseline for the metric stream.
// Each run supersedes the previous baseline for the same
// (metric, source, time frame); earlier rows remain as history.
func (c *BaselineCalculator) Calculate(
	ctx context.Context,
	organizationID string,
	metricName string,
	source string,
	timeFrame string,
) (*storage.PerformanceBaseline, error) {
	end := c.now()
	start := end.Add(-lookbackFor(timeFrame))

	metrics, err := c.store.GetMetricsInRange(ctx, organizationID, metricName, source, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric history: %w", err)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no samples for %s/%s in window: %w", metricName, source, ErrInsufficientData)
	}

	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Value
	}
	sorted := SortedCopy(values)

	mean := Mean(values)
	stdDev := PopulationStdDev(values)

	lowerBound := mean - anomalyBoundSigma*stdDev
	if lowerBound < 0 {
		lowerBound = 0
	}

	baseline := &storage.PerformanceBaseline{
		OrganizationID:         organizationID,
		MetricName:             metricName,
		Source:                 source,
		TimeFrame:              timeFrame,
		MeanValue:              mean,
		MedianValue:            MedianLowerMiddle(sorted),
		StandardDeviation:      stdDev,
		Percentile95:           NearestRankPercentile(sorted, 0.95),
		Percentile99:           NearestRankPercentile(sorted, 0.99),
		MinValue:               sorted[0],
		MaxValue:               sorted[len(sorted)-1],
		UpperBound:             mean + anomalyBoundSigma*stdDev,
		LowerBound:             lowerBound,
		SampleSize:             len(values),
		ConfidenceLevel:        confidenceFor(len(values)),
		CalculationPeriodStart: start,
		CalculationPeriodEnd:   end,
		LastCalculated:         end,
	}

	if err := c.store.SaveBaseline(ctx, baseline); err != nil {
		return nil, err
	}

	c.logger.Info("Calculated performance baseline",
		zap.String("metric_name", metricName),
		zap.String("source", source),
		zap.String("time_frame", timeFrame),
		zap.Int("sample_size", baseline.SampleSize),
		zap.Float64("mean", baseline.MeanValue),
		zap.Float64("upper_bound", baseline.UpperBound))

	return baseline, nil
}
