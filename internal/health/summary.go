// Package health rolls alerting and metric state up into one status
// object.
package health

import (
	"context"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// Overall status values, ordered worst first.
const (
	StatusCritical = "critical"
	StatusWarning  = "warning"
	StatusHealthy  = "healthy"
)

// Performance status values derived from system metrics.
const (
	PerformanceDegraded = "degraded"
	PerformanceWarning  = "warning"
	PerformanceOptimal  = "optimal"
)

// systemSource is the source the well-known system metrics are recorded
// under.
const systemSource = "system"

// Summary is the aggregated system status.
type Summary struct {
	OverallStatus     string    `json:"overall_status"`
	CriticalAlerts    int       `json:"critical_alerts"`
	WarningAlerts     int       `json:"warning_alerts"`
	SecurityEvents24h int       `json:"security_events_24h"`
	PerformanceStatus string    `json:"performance_status"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// SummaryStore is the read surface the aggregator needs.
type SummaryStore interface {
	CountActiveBySeverity(ctx context.Context, organizationID string) (map[string]int, error)
	CountRecentSecurityEvents(ctx context.Context, organizationID string, since time.Time) (int, error)
	GetLatestMetricValue(ctx context.Context, organizationID, metricName, source string) (float64, bool, error)
}

// Aggregator computes health summaries. Missing data always reads as
// zero; the summary never fails because a sub-query found nothing.
type Aggregator struct {
	store  SummaryStore
	logger *zap.Logger
}

func NewAggregator(store SummaryStore, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// systemMetrics are the readings the performance status derives from.
type systemMetrics struct {
	cpu       float64
	memory    float64
	latency   float64
	errorRate float64
}

// Summarize builds the current health summary for an organization.
func (a *Aggregator) Summarize(ctx context.Context, organizationID string) (*Summary, error) {
	counts, err := a.store.CountActiveBySeverity(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	events, err := a.store.CountRecentSecurityEvents(ctx, organizationID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	sys := a.readSystemMetrics(ctx, organizationID)

	s := &Summary{
		CriticalAlerts:    counts[storage.SeverityCritical],
		WarningAlerts:     counts[storage.SeverityWarning],
		SecurityEvents24h: events,
		PerformanceStatus: performanceStatus(sys),
		GeneratedAt:       time.Now(),
	}

	switch {
	case s.CriticalAlerts > 0:
		s.OverallStatus = StatusCritical
	case s.WarningAlerts > 0:
		s.OverallStatus = StatusWarning
	default:
		s.OverallStatus = StatusHealthy
	}

	return s, nil
}

// readSystemMetrics fetches the latest well-known system readings.
// A missing stream or a read failure reads as zero.
func (a *Aggregator) readSystemMetrics(ctx context.Context, organizationID string) systemMetrics {
	read := func(metricName string) float64 {
		v, ok, err := a.store.GetLatestMetricValue(ctx, organizationID, metricName, systemSource)
		if err != nil {
			a.logger.Warn("Failed to read system metric for health summary",
				zap.String("metric_name", metricName),
				zap.Error(err))
			return 0
		}
		if !ok {
			return 0
		}
		return v
	}

	return systemMetrics{
		cpu:       read("cpu_usage"),
		memory:    read("memory_usage"),
		latency:   read("avg_latency_ms"),
		errorRate: read("error_rate"),
	}
}

func performanceStatus(sys systemMetrics) string {
	if sys.cpu > 80 || sys.memory > 85 || sys.latency > 1000 || sys.errorRate > 1 {
		return PerformanceDegraded
	}
	if sys.cpu > 60 || sys.memory > 70 {
		return PerformanceWarning
	}
	return PerformanceOptimal
}
