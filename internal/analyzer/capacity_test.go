package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUtilizationProvider struct {
	utilization *Utilization
	err         error
}

func (f *fakeUtilizationProvider) CurrentUtilization(context.Context, string, string) (*Utilization, error) {
	return f.utilization, f.err
}

type fakeCapacityStore struct {
	history       []*storage.Metric
	saved         []*storage.CapacityAnalysis
	gotMetricName string
}

func (f *fakeCapacityStore) GetMetricsInRange(_ context.Context, _, metricName, _ string, _, _ time.Time) ([]*storage.Metric, error) {
	f.gotMetricName = metricName
	return f.history, nil
}

func (f *fakeCapacityStore) SaveCapacityAnalysis(_ context.Context, a *storage.CapacityAnalysis) error {
	f.saved = append(f.saved, a)
	return nil
}

// risingHistory builds daily samples growing by one unit per day.
func risingHistory(base time.Time, startValue float64, days int) []*storage.Metric {
	out := make([]*storage.Metric, days)
	for i := 0; i < days; i++ {
		out[i] = &storage.Metric{
			Timestamp: base.AddDate(0, 0, i),
			Value:     startValue + float64(i),
		}
	}
	return out
}

func recommendationActions(a *storage.CapacityAnalysis) []string {
	actions := make([]string, 0, len(a.Recommendations))
	for _, r := range a.Recommendations {
		actions = append(actions, r.Action)
	}
	return actions
}

func TestAnalyzeHighUtilizationRecommendsScaleUp(t *testing.T) {
	provider := &fakeUtilizationProvider{utilization: &Utilization{Capacity: 100, Utilization: 85, SampleCount: 3}}
	store := &fakeCapacityStore{}
	planner := NewCapacityPlanner(provider, store, 90, 12, zap.NewNop())

	a, err := planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.NoError(t, err)

	assert.Equal(t, 85.0, a.UtilizationPercentage)
	assert.Contains(t, recommendationActions(a), "scale_up")
	for _, r := range a.Recommendations {
		if r.Action == "scale_up" {
			assert.Equal(t, "high", r.Priority)
		}
	}
	require.Len(t, store.saved, 1)
}

func TestAnalyzeHealthyUtilizationHasNoRecommendations(t *testing.T) {
	provider := &fakeUtilizationProvider{utilization: &Utilization{Capacity: 100, Utilization: 50, SampleCount: 3}}
	store := &fakeCapacityStore{}
	planner := NewCapacityPlanner(provider, store, 90, 12, zap.NewNop())

	a, err := planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.NoError(t, err)

	// Flat history means zero growth, so no exhaustion date either.
	assert.Empty(t, a.Recommendations)
	assert.Nil(t, a.EstimatedExhaustionDate)
	assert.Zero(t, a.ProjectedGrowthRate)
}

func TestAnalyzeGrowthFromHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeUtilizationProvider{utilization: &Utilization{Capacity: 100, Utilization: 60, SampleCount: 3}}
	store := &fakeCapacityStore{history: risingHistory(now.AddDate(0, 0, -10), 50, 10)}
	planner := NewCapacityPlanner(provider, store, 90, 12, zap.NewNop())
	planner.now = func() time.Time { return now }

	a, err := planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.NoError(t, err)

	// Slope 1/day over mean 54.5 -> 30/54.5*100 percent per month.
	assert.Equal(t, "cpu_utilization", store.gotMetricName)
	assert.InDelta(t, 30.0/54.5*100.0, a.ProjectedGrowthRate, 1e-6)
	assert.Contains(t, recommendationActions(a), "review_growth")

	// 60 -> 100 at ~55%/month exhausts well inside 90 days.
	require.NotNil(t, a.EstimatedExhaustionDate)
	assert.Contains(t, recommendationActions(a), "plan_capacity")
}

func TestAnalyzeForecastCurve(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeUtilizationProvider{utilization: &Utilization{Capacity: 1000, Utilization: 100, SampleCount: 1}}
	store := &fakeCapacityStore{history: risingHistory(now.AddDate(0, 0, -10), 100, 10)}
	planner := NewCapacityPlanner(provider, store, 90, 12, zap.NewNop())
	planner.now = func() time.Time { return now }

	a, err := planner.Analyze(context.Background(), "org-1", "memory", "node-1")
	require.NoError(t, err)

	require.Len(t, a.ProjectedUtilization, 12)
	growth := a.ProjectedGrowthRate / 100.0
	assert.InDelta(t, 100*(1+growth), a.ProjectedUtilization[0].Utilization, 1e-6)
	assert.True(t, a.ProjectedUtilization[11].Utilization > a.ProjectedUtilization[0].Utilization)

	// Perfect linear history gives base confidence 95, decaying 5 per
	// month with a floor at 25.
	assert.InDelta(t, 95.0, a.ProjectedUtilization[0].Confidence, 1e-6)
	assert.InDelta(t, 90.0, a.ProjectedUtilization[1].Confidence, 1e-6)
	assert.InDelta(t, 40.0, a.ProjectedUtilization[11].Confidence, 1e-6)
}

func TestAnalyzeNoSamplesIsInsufficientData(t *testing.T) {
	provider := &fakeUtilizationProvider{utilization: &Utilization{Capacity: 100, Utilization: 0, SampleCount: 0}}
	store := &fakeCapacityStore{}
	planner := NewCapacityPlanner(provider, store, 90, 12, zap.NewNop())

	_, err := planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Empty(t, store.saved)
}

func TestAnalyzeProviderErrors(t *testing.T) {
	provider := &fakeUtilizationProvider{err: errors.New("cluster unreachable")}
	planner := NewCapacityPlanner(provider, &fakeCapacityStore{}, 90, 12, zap.NewNop())

	_, err := planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.Error(t, err)

	planner = NewCapacityPlanner(nil, &fakeCapacityStore{}, 90, 12, zap.NewNop())
	_, err = planner.Analyze(context.Background(), "org-1", "cpu", "node-1")
	require.Error(t, err)
}

func TestExhaustionDate(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// No growth: never exhausts.
	assert.Nil(t, exhaustionDate(50, 100, 0, now))

	// Already at capacity: exhausted now.
	d := exhaustionDate(100, 100, 10, now)
	require.NotNil(t, d)
	assert.Equal(t, now, *d)

	// 50 -> 100 at 10%/month is about 7.3 months out.
	d = exhaustionDate(50, 100, 10, now)
	require.NotNil(t, d)
	assert.True(t, d.After(now.AddDate(0, 6, 0)))
	assert.True(t, d.Before(now.AddDate(0, 9, 0)))

	// Past the 60-month horizon the estimate is dropped.
	assert.Nil(t, exhaustionDate(1, 1000000, 1, now))
}
