package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Severity levels attached to breached conditions and alerts.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert lifecycle states. An alert is never deleted, only resolved.
const (
	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// Comparison operators supported by alert rule conditions.
const (
	OpGreaterThan    = "gt"
	OpGreaterOrEqual = "gte"
	OpLessThan       = "lt"
	OpLessOrEqual    = "lte"
	OpEqual          = "eq"
	OpNotEqual       = "ne"
)

// ValidationError reports a malformed input that was rejected before any
// state was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Metric represents one immutable time-series measurement.
type Metric struct {
	ID                int64             `json:"id"`
	OrganizationID    string            `json:"organization_id"`
	MetricName        string            `json:"metric_name"`
	MetricType        string            `json:"metric_type"`
	Source            string            `json:"source"`
	Value             float64           `json:"value"`
	Unit              string            `json:"unit,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Tags              map[string]string `json:"tags,omitempty"`
	AggregationPeriod string            `json:"aggregation_period,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Validate rejects samples that are missing required fields or carry a
// non-finite value.
func (m *Metric) Validate() error {
	if m.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Reason: "cannot be empty"}
	}
	if m.MetricName == "" {
		return &ValidationError{Field: "metric_name", Reason: "cannot be empty"}
	}
	if m.Source == "" {
		return &ValidationError{Field: "source", Reason: "cannot be empty"}
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return &ValidationError{Field: "value", Reason: "must be a finite number"}
	}
	if m.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// MetricQuery declares which metric stream a rule applies to. Only
// MetricName gates evaluation; aggregation, window and filters are stored
// for the rule but evaluation runs against each incoming sample.
type MetricQuery struct {
	MetricName  string            `json:"metric_name"`
	Aggregation string            `json:"aggregation,omitempty"`
	TimeWindow  string            `json:"time_window,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
}

// AlertCondition is one threshold comparison. Conditions are kept in
// declaration order and the first satisfied condition wins.
type AlertCondition struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
	Severity string  `json:"severity"`
}

// NotificationChannelConfig binds a rule to one outbound channel. An empty
// SeverityFilter means the channel receives every severity.
type NotificationChannelConfig struct {
	Type           string            `json:"type"`
	Config         map[string]string `json:"config"`
	SeverityFilter []string          `json:"severity_filter,omitempty"`
}

// AlertRule is an operator-defined threshold rule, read-mostly at
// evaluation time.
type AlertRule struct {
	ID                    int64                       `json:"id"`
	OrganizationID        string                      `json:"organization_id"`
	RuleName              string                      `json:"rule_name"`
	Description           string                      `json:"description,omitempty"`
	Category              string                      `json:"category,omitempty"`
	Query                 MetricQuery                 `json:"metric_query"`
	Conditions            []AlertCondition            `json:"conditions"`
	EvaluationIntervalSec int                         `json:"evaluation_interval_sec"`
	AlertCooldownSec      int                         `json:"alert_cooldown_sec"`
	Channels              []NotificationChannelConfig `json:"notification_channels"`
	IsActive              bool                        `json:"is_active"`
	EvaluationCount       int64                       `json:"evaluation_count"`
	AlertCount            int64                       `json:"alert_count"`
	LastEvaluated         *time.Time                  `json:"last_evaluated,omitempty"`
	CreatedAt             time.Time                   `json:"created_at"`
}

var validOperators = map[string]bool{
	OpGreaterThan: true, OpGreaterOrEqual: true,
	OpLessThan: true, OpLessOrEqual: true,
	OpEqual: true, OpNotEqual: true,
}

var validChannelTypes = map[string]bool{
	"email": true, "slack": true, "webhook": true, "sms": true,
}

// Validate rejects malformed rule configurations synchronously, before
// anything is persisted.
func (r *AlertRule) Validate() error {
	if r.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Reason: "cannot be empty"}
	}
	if r.RuleName == "" {
		return &ValidationError{Field: "rule_name", Reason: "cannot be empty"}
	}
	if r.Query.MetricName == "" {
		return &ValidationError{Field: "metric_query.metric_name", Reason: "cannot be empty"}
	}
	if len(r.Conditions) == 0 {
		return &ValidationError{Field: "conditions", Reason: "at least one condition is required"}
	}
	for i, c := range r.Conditions {
		if !validOperators[c.Operator] {
			return &ValidationError{
				Field:  fmt.Sprintf("conditions[%d].operator", i),
				Reason: fmt.Sprintf("unknown operator %q", c.Operator),
			}
		}
		if c.Severity == "" {
			return &ValidationError{
				Field:  fmt.Sprintf("conditions[%d].severity", i),
				Reason: "cannot be empty",
			}
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return &ValidationError{
				Field:  fmt.Sprintf("conditions[%d].value", i),
				Reason: "must be a finite number",
			}
		}
	}
	for i, ch := range r.Channels {
		if !validChannelTypes[ch.Type] {
			return &ValidationError{
				Field:  fmt.Sprintf("notification_channels[%d].type", i),
				Reason: fmt.Sprintf("unknown channel type %q", ch.Type),
			}
		}
	}
	if r.AlertCooldownSec < 0 {
		return &ValidationError{Field: "alert_cooldown_sec", Reason: "must be non-negative"}
	}
	if r.EvaluationIntervalSec < 0 {
		return &ValidationError{Field: "evaluation_interval_sec", Reason: "must be non-negative"}
	}
	return nil
}

// ActiveAlert is one alert incident. At most one row with
// status=active may exist per alert key; repeat breaches update the
// existing row instead of creating a new one.
type ActiveAlert struct {
	ID               int64           `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	RuleID           int64           `json:"rule_id"`
	AlertKey         string          `json:"alert_key"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Severity         string          `json:"severity"`
	TriggerValue     float64         `json:"trigger_value"`
	TriggerTimestamp time.Time       `json:"trigger_timestamp"`
	TriggerMetrics   json.RawMessage `json:"trigger_metrics,omitempty"`
	Status           string          `json:"status"`
	FirstSeen        time.Time       `json:"first_seen"`
	LastSeen         time.Time       `json:"last_seen"`
}

// AlertKey derives the deduplication identity for a rule firing against a
// sample. All concurrent breaches of the same key collapse into one
// active incident.
func AlertKey(ruleID int64, source, metricName string) string {
	return fmt.Sprintf("%d:%s:%s", ruleID, source, metricName)
}

// PerformanceBaseline is a statistical summary of a metric's historical
// distribution. Each recalculation supersedes the previous one for the
// same (metric, source, time frame); old rows remain as history.
type PerformanceBaseline struct {
	ID                     int64     `json:"id"`
	OrganizationID         string    `json:"organization_id"`
	MetricName             string    `json:"metric_name"`
	Source                 string    `json:"source"`
	TimeFrame              string    `json:"time_frame"`
	MeanValue              float64   `json:"mean_value"`
	MedianValue            float64   `json:"median_value"`
	StandardDeviation      float64   `json:"standard_deviation"`
	Percentile95           float64   `json:"percentile_95"`
	Percentile99           float64   `json:"percentile_99"`
	MinValue               float64   `json:"min_value"`
	MaxValue               float64   `json:"max_value"`
	UpperBound             float64   `json:"upper_bound"`
	LowerBound             float64   `json:"lower_bound"`
	SampleSize             int       `json:"sample_size"`
	ConfidenceLevel        float64   `json:"confidence_level"`
	CalculationPeriodStart time.Time `json:"calculation_period_start"`
	CalculationPeriodEnd   time.Time `json:"calculation_period_end"`
	LastCalculated         time.Time `json:"last_calculated"`
}

// ProjectedPoint is one point on a capacity forecast curve.
type ProjectedPoint struct {
	Date        time.Time `json:"date"`
	Utilization float64   `json:"utilization"`
	Confidence  float64   `json:"confidence"`
}

// Recommendation is a capacity action suggested by the planner.
type Recommendation struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// CapacityAnalysis is one capacity planning run; rows are append-only
// history.
type CapacityAnalysis struct {
	ID                      int64            `json:"id"`
	OrganizationID          string           `json:"organization_id"`
	ResourceType            string           `json:"resource_type"`
	ResourceID              string           `json:"resource_id"`
	CurrentCapacity         float64          `json:"current_capacity"`
	CurrentUtilization      float64          `json:"current_utilization"`
	UtilizationPercentage   float64          `json:"utilization_percentage"`
	ProjectedGrowthRate     float64          `json:"projected_growth_rate"`
	ForecastPeriod          string           `json:"forecast_period"`
	ProjectedUtilization    []ProjectedPoint `json:"projected_utilization"`
	EstimatedExhaustionDate *time.Time       `json:"estimated_exhaustion_date,omitempty"`
	Recommendations         []Recommendation `json:"recommendations"`
	AnalysisDate            time.Time        `json:"analysis_date"`
	DataWindow              string           `json:"data_window"`
}

// SecurityEvent is one discrete security-relevant occurrence, append-only.
type SecurityEvent struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id"`
	OrganizationID string          `json:"organization_id"`
	EventType      string          `json:"event_type"`
	Severity       string          `json:"severity"`
	Category       string          `json:"category,omitempty"`
	Title          string          `json:"title"`
	Source         string          `json:"source,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	SourceIP       string          `json:"source_ip,omitempty"`
	EventData      json.RawMessage `json:"event_data,omitempty"`
	RiskScore      float64         `json:"risk_score,omitempty"`
	EventTimestamp time.Time       `json:"event_timestamp"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate rejects events missing required fields.
func (e *SecurityEvent) Validate() error {
	if e.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Reason: "cannot be empty"}
	}
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "cannot be empty"}
	}
	if e.Severity == "" {
		return &ValidationError{Field: "severity", Reason: "cannot be empty"}
	}
	if e.Title == "" {
		return &ValidationError{Field: "title", Reason: "cannot be empty"}
	}
	return nil
}
