package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSummaryStore struct {
	severityCounts map[string]int
	securityEvents int
	metrics        map[string]float64
	metricErr      error
}

func (f *fakeSummaryStore) CountActiveBySeverity(context.Context, string) (map[string]int, error) {
	return f.severityCounts, nil
}

func (f *fakeSummaryStore) CountRecentSecurityEvents(context.Context, string, time.Time) (int, error) {
	return f.securityEvents, nil
}

func (f *fakeSummaryStore) GetLatestMetricValue(_ context.Context, _, metricName, source string) (float64, bool, error) {
	if f.metricErr != nil {
		return 0, false, f.metricErr
	}
	if source != "system" {
		return 0, false, nil
	}
	v, ok := f.metrics[metricName]
	return v, ok, nil
}

func TestSummarizeHealthySystem(t *testing.T) {
	store := &fakeSummaryStore{
		severityCounts: map[string]int{},
		securityEvents: 2,
		metrics: map[string]float64{
			"cpu_usage":      50,
			"memory_usage":   60,
			"avg_latency_ms": 200,
			"error_rate":     0,
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	s, err := agg.Summarize(context.Background(), "org-1")
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, s.OverallStatus)
	assert.Zero(t, s.CriticalAlerts)
	assert.Zero(t, s.WarningAlerts)
	assert.Equal(t, 2, s.SecurityEvents24h)
	assert.Equal(t, PerformanceOptimal, s.PerformanceStatus)
	assert.False(t, s.GeneratedAt.IsZero())
}

func TestSummarizeOverallStatusRollup(t *testing.T) {
	cases := []struct {
		name   string
		counts map[string]int
		want   string
	}{
		{"critical wins", map[string]int{"critical": 1, "warning": 3}, StatusCritical},
		{"warning without critical", map[string]int{"warning": 2}, StatusWarning},
		{"other severities stay healthy", map[string]int{"low": 5, "high": 0}, StatusHealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeSummaryStore{severityCounts: tc.counts}
			agg := NewAggregator(store, zap.NewNop())

			s, err := agg.Summarize(context.Background(), "org-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.OverallStatus)
		})
	}
}

func TestPerformanceStatusThresholds(t *testing.T) {
	cases := []struct {
		name string
		sys  systemMetrics
		want string
	}{
		{"all low", systemMetrics{cpu: 10, memory: 10}, PerformanceOptimal},
		{"cpu warning", systemMetrics{cpu: 61}, PerformanceWarning},
		{"memory warning", systemMetrics{memory: 71}, PerformanceWarning},
		{"cpu degraded", systemMetrics{cpu: 81}, PerformanceDegraded},
		{"memory degraded", systemMetrics{memory: 86}, PerformanceDegraded},
		{"latency degraded", systemMetrics{latency: 1001}, PerformanceDegraded},
		{"error rate degraded", systemMetrics{errorRate: 1.5}, PerformanceDegraded},
		{"boundary values stay optimal", systemMetrics{cpu: 60, memory: 70, latency: 1000, errorRate: 1}, PerformanceOptimal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, performanceStatus(tc.sys))
		})
	}
}

func TestSummarizeMissingMetricsReadAsZero(t *testing.T) {
	store := &fakeSummaryStore{severityCounts: map[string]int{}}
	agg := NewAggregator(store, zap.NewNop())

	s, err := agg.Summarize(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, PerformanceOptimal, s.PerformanceStatus)
}

func TestSummarizeMetricReadFailureDoesNotFail(t *testing.T) {
	store := &fakeSummaryStore{
		severityCounts: map[string]int{"warning": 1},
		metricErr:      errors.New("query timeout"),
	}
	agg := NewAggregator(store, zap.NewNop())

	s, err := agg.Summarize(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, s.OverallStatus)
	assert.Equal(t, PerformanceOptimal, s.PerformanceStatus)
}
