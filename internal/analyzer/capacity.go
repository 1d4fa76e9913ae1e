package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// Utilization is a point-in-time capacity reading from an external
// resource-metrics provider.
type Utilization struct {
	Capacity    float64
	Utilization float64
	SampleCount int
}

// UtilizationProvider supplies current capacity readings. Kubernetes is
// one implementation; tests use fakes.
type UtilizationProvider interface {
	CurrentUtilization(ctx context.Context, resourceType, resourceID string) (*Utilization, error)
}

// CapacityStore is the persistence surface the planner needs.
type CapacityStore interface {
	GetMetricsInRange(ctx context.Context, organizationID, metricName, source string, start, end time.Time) ([]*storage.Metric, error)
	SaveCapacityAnalysis(ctx context.Context, a *storage.CapacityAnalysis) error
}

// CapacityPlanner projects utilization growth and estimates when a
// resource runs out of headroom.
type CapacityPlanner struct {
	provider       UtilizationProvider
	store          CapacityStore
	dataWindowDays int
	forecastMonths int
	logger         *zap.Logger

	now func() time.Time
}

func NewCapacityPlanner(
	provider UtilizationProvider,
	store CapacityStore,
	dataWindowDays int,
	forecastMonths int,
	logger *zap.Logger,
) *CapacityPlanner {
	if dataWindowDays <= 0 {
		dataWindowDays = 90
	}
	if forecastMonths <= 0 {
		forecastMonths = 12
	}
	return &CapacityPlanner{
		provider:       provider,
		store:          store,
		dataWindowDays: dataWindowDays,
		forecastMonths: forecastMonths,
		logger:         logger,
		now:            time.Now,
	}
}

// recommendationRule maps an observed capacity situation to an action.
// New thresholds are added as table rows; Analyze never changes.
type recommendationRule struct {
	applies func(a *storage.CapacityAnalysis) bool
	build   func(a *storage.CapacityAnalysis) storage.Recommendation
}

var recommendationTable = []recommendationRule{
	{
		applies: func(a *storage.CapacityAnalysis) bool {
			return a.CurrentCapacity > 0 && a.CurrentUtilization/a.CurrentCapacity > 0.8
		},
		build: func(a *storage.CapacityAnalysis) storage.Recommendation {
			return storage.Recommendation{
				Action:   "scale_up",
				Priority: "high",
				Message: fmt.Sprintf("%s %s is at %.1f%% of capacity; scale up before headroom runs out.",
					a.ResourceType, a.ResourceID, a.UtilizationPercentage),
			}
		},
	},
	{
		applies: func(a *storage.CapacityAnalysis) bool {
			return a.ProjectedGrowthRate > 15
		},
		build: func(a *storage.CapacityAnalysis) storage.Recommendation {
			return storage.Recommendation{
				Action:   "review_growth",
				Priority: "medium",
				Message: fmt.Sprintf("Utilization of %s %s is growing %.1f%% per month; review demand drivers.",
					a.ResourceType, a.ResourceID, a.ProjectedGrowthRate),
			}
		},
	},
	{
		applies: func(a *storage.CapacityAnalysis) bool {
			if a.EstimatedExhaustionDate == nil {
				return false
			}
			return time.Until(*a.EstimatedExhaustionDate) < 90*24*time.Hour
		},
		build: func(a *storage.CapacityAnalysis) storage.Recommendation {
			return storage.Recommendation{
				Action:   "plan_capacity",
				Priority: "high",
				Message: fmt.Sprintf("%s %s is projected to exhaust capacity by %s.",
					a.ResourceType, a.ResourceID, a.EstimatedExhaustionDate.Format("2006-01-02")),
			}
		},
	},
}

// Analyze gathers the current reading, derives a monthly growth rate from
// the historical utilization stream, projects a forecast curve and
// persists one analysis row.
func (p *CapacityPlanner) Analyze(
	ctx context.Context,
	organizationID string,
	resourceType string,
	resourceID string,
) (*storage.CapacityAnalysis, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("no utilization provider configured")
	}

	current, err := p.provider.CurrentUtilization(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current utilization: %w", err)
	}
	if current.SampleCount == 0 {
		return nil, fmt.Errorf("no utilization samples for %s/%s: %w", resourceType, resourceID, ErrInsufficientData)
	}

	now := p.now()
	windowStart := now.Add(-time.Duration(p.dataWindowDays) * 24 * time.Hour)

	growthRate, fitQuality := p.historicalGrowthRate(ctx, organizationID, resourceType, resourceID, windowStart, now)

	analysis := &storage.CapacityAnalysis{
		OrganizationID:      organizationID,
		ResourceType:        resourceType,
		ResourceID:          resourceID,
		CurrentCapacity:     current.Capacity,
		CurrentUtilization:  current.Utilization,
		ProjectedGrowthRate: growthRate,
		ForecastPeriod:      fmt.Sprintf("%dm", p.forecastMonths),
		AnalysisDate:        now,
		DataWindow:          fmt.Sprintf("%dd", p.dataWindowDays),
	}
	if current.Capacity > 0 {
		analysis.UtilizationPercentage = (current.Utilization / current.Capacity) * 100
	}

	analysis.ProjectedUtilization = p.forecast(current.Utilization, growthRate, fitQuality, now)
	analysis.EstimatedExhaustionDate = exhaustionDate(current.Utilization, current.Capacity, growthRate, now)

	analysis.Recommendations = []storage.Recommendation{}
	for _, rule := range recommendationTable {
		if rule.applies(analysis) {
			analysis.Recommendations = append(analysis.Recommendations, rule.build(analysis))
		}
	}

	if err := p.store.SaveCapacityAnalysis(ctx, analysis); err != nil {
		return nil, err
	}

	p.logger.Info("Capacity analysis complete",
		zap.String("resource_type", resourceType),
		zap.String("resource_id", resourceID),
		zap.Float64("utilization_pct", analysis.UtilizationPercentage),
		zap.Float64("monthly_growth_pct", growthRate),
		zap.Int("recommendations", len(analysis.Recommendations)))

	return analysis, nil
}

// historicalGrowthRate fits a line through the resource's utilization
// history and converts the slope into percent growth per month. Returns
// zero growth with zero fit quality when history is too thin.
func (p *CapacityPlanner) historicalGrowthRate(
	ctx context.Context,
	organizationID string,
	resourceType string,
	resourceID string,
	start, end time.Time,
) (growthRate, fitQuality float64) {
	metricName := fmt.Sprintf("%s_utilization", resourceType)
	history, err := p.store.GetMetricsInRange(ctx, organizationID, metricName, resourceID, start, end)
	if err != nil {
		p.logger.Warn("Failed to load utilization history, assuming flat growth",
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err))
		return 0, 0
	}
	if len(history) < 2 {
		return 0, 0
	}

	x := make([]float64, len(history))
	y := make([]float64, len(history))
	first := history[0].Timestamp
	for i, m := range history {
		x[i] = m.Timestamp.Sub(first).Hours() / 24.0
		y[i] = m.Value
	}

	slope, _, rSquared := LinearRegression(x, y)
	mean := Mean(y)
	if mean <= 0 {
		return 0, rSquared
	}

	// slope is per day; report percent per 30-day month.
	return (slope * 30.0 / mean) * 100.0, rSquared
}

// forecast projects compounded monthly utilization. Point confidence
// starts from the regression fit and decays with forecast distance.
func (p *CapacityPlanner) forecast(currentUtilization, growthRate, fitQuality float64, now time.Time) []storage.ProjectedPoint {
	points := make([]storage.ProjectedPoint, 0, p.forecastMonths)
	base := 60 + 35*fitQuality
	for n := 1; n <= p.forecastMonths; n++ {
		projected := currentUtilization * math.Pow(1+growthRate/100.0, float64(n))
		confidence := base - 5*float64(n-1)
		if confidence < 25 {
			confidence = 25
		}
		points = append(points, storage.ProjectedPoint{
			Date:        now.AddDate(0, n, 0),
			Utilization: projected,
			Confidence:  confidence,
		})
	}
	return points
}

// exhaustionDate solves for when compounded growth reaches capacity.
// Nil when utilization is not growing or the date is implausibly far out.
func exhaustionDate(currentUtilization, capacity, growthRate float64, now time.Time) *time.Time {
	if growthRate <= 0 || currentUtilization <= 0 || capacity <= currentUtilization {
		if capacity > 0 && currentUtilization >= capacity {
			d := now
			return &d
		}
		return nil
	}

	months := math.Log(capacity/currentUtilization) / math.Log(1+growthRate/100.0)
	if months > 60 {
		return nil
	}

	days := int(math.Ceil(months * 30.4))
	d := now.AddDate(0, 0, days)
	return &d
}
