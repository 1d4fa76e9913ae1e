package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opsfleet-labs/vantage/internal/notify"
	"github.com/opsfleet-labs/vantage/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMetricStore struct {
	mu      sync.Mutex
	saved   []*storage.Metric
	batches [][]*storage.Metric
	failOn  string
}

func (f *fakeMetricStore) SaveMetric(_ context.Context, m *storage.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && m.MetricName == f.failOn {
		return errors.New("save failed")
	}
	m.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeMetricStore) BatchSaveMetrics(_ context.Context, metrics []*storage.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, metrics)
	f.saved = append(f.saved, metrics...)
	return nil
}

type fakeRuleStore struct {
	mu        sync.Mutex
	rules     []*storage.AlertRule
	failFor   string
	evaluated map[int64]int
	alerted   map[int64]int
}

func newFakeRuleStore(rules ...*storage.AlertRule) *fakeRuleStore {
	return &fakeRuleStore{
		rules:     rules,
		evaluated: make(map[int64]int),
		alerted:   make(map[int64]int),
	}
}

func (f *fakeRuleStore) ActiveRulesForMetric(_ context.Context, orgID, metricName string) ([]*storage.AlertRule, error) {
	if f.failFor == metricName {
		return nil, errors.New("rule load failed")
	}
	var out []*storage.AlertRule
	for _, r := range f.rules {
		if r.OrganizationID == orgID && r.IsActive && r.Query.MetricName == metricName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) MarkRuleEvaluated(_ context.Context, ruleID int64, alerted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated[ruleID]++
	if alerted {
		f.alerted[ruleID]++
	}
	return nil
}

// fakeAlertStore mirrors the conditional-upsert semantics of the real
// store: one active row per key, updates in place on conflict.
type fakeAlertStore struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]*storage.ActiveAlert
	now    func() time.Time
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		byKey: make(map[string]*storage.ActiveAlert),
		now:   time.Now,
	}
}

func (f *fakeAlertStore) UpsertActiveAlert(_ context.Context, alert *storage.ActiveAlert) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if existing, ok := f.byKey[alert.AlertKey]; ok {
		existing.LastSeen = now
		existing.TriggerValue = alert.TriggerValue
		existing.TriggerTimestamp = alert.TriggerTimestamp
		existing.TriggerMetrics = alert.TriggerMetrics
		*alert = *existing
		return existing.ID, false, nil
	}
	f.nextID++
	alert.ID = f.nextID
	alert.Status = storage.AlertStatusActive
	alert.FirstSeen = now
	alert.LastSeen = now
	stored := *alert
	f.byKey[alert.AlertKey] = &stored
	return alert.ID, true, nil
}

func (f *fakeAlertStore) TouchActiveAlert(_ context.Context, alertKey string, value float64, ts time.Time, metrics []byte) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.byKey[alertKey]
	if !ok {
		return 0, false, nil
	}
	existing.LastSeen = f.now()
	existing.TriggerValue = value
	existing.TriggerTimestamp = ts
	existing.TriggerMetrics = metrics
	return existing.ID, true, nil
}

func (f *fakeAlertStore) LatestAlertTime(_ context.Context, ruleID int64) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, a := range f.byKey {
		if a.RuleID != ruleID {
			continue
		}
		t := a.FirstSeen
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

type dispatchRecord struct {
	ruleID   int64
	severity string
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []dispatchRecord
}

func (f *fakeNotifier) Dispatch(_ context.Context, rule *storage.AlertRule, _ *storage.ActiveAlert, _ *storage.Metric, cond storage.AlertCondition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, dispatchRecord{ruleID: rule.ID, severity: cond.Severity})
}

func testRule(id int64, metricName string, conditions ...storage.AlertCondition) *storage.AlertRule {
	return &storage.AlertRule{
		ID:               id,
		OrganizationID:   "org-1",
		RuleName:         fmt.Sprintf("rule-%d", id),
		Query:            storage.MetricQuery{MetricName: metricName},
		Conditions:       conditions,
		AlertCooldownSec: 300,
		IsActive:         true,
	}
}

func testMetric(name, source string, value float64) *storage.Metric {
	return &storage.Metric{
		OrganizationID: "org-1",
		MetricName:     name,
		MetricType:     "gauge",
		Source:         source,
		Value:          value,
		Timestamp:      time.Now(),
	}
}

func newTestEngine(rules *fakeRuleStore, alerts *fakeAlertStore, notifier Notifier) (*Ingestor, *fakeMetricStore) {
	logger := zap.NewNop()
	lifecycle := NewLifecycle(alerts, notifier, logger)
	evaluator := NewEvaluator(rules, lifecycle, logger)
	metrics := &fakeMetricStore{}
	return NewIngestor(metrics, evaluator, 5*time.Second, logger), metrics
}

func TestFirstMatchingConditionWins(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 100, Severity: storage.SeverityWarning},
		storage.AlertCondition{Operator: "gt", Value: 200, Severity: storage.SeverityCritical},
	)
	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}
	ingestor, _ := newTestEngine(rules, alerts, notifier)

	err := ingestor.RecordMetric(context.Background(), testMetric("cpu_usage", "web-1", 250))
	require.NoError(t, err)

	require.Len(t, notifier.dispatched, 1)
	assert.Equal(t, storage.SeverityWarning, notifier.dispatched[0].severity)

	key := storage.AlertKey(1, "web-1", "cpu_usage")
	require.Contains(t, alerts.byKey, key)
	assert.Equal(t, storage.SeverityWarning, alerts.byKey[key].Severity)
}

func TestConditionOperators(t *testing.T) {
	cases := []struct {
		operator  string
		value     float64
		threshold float64
		holds     bool
	}{
		{"gt", 11, 10, true},
		{"gt", 10, 10, false},
		{"gte", 10, 10, true},
		{"gte", 9, 10, false},
		{"lt", 9, 10, true},
		{"lt", 10, 10, false},
		{"lte", 10, 10, true},
		{"lte", 11, 10, false},
		{"eq", 10, 10, true},
		{"eq", 10.5, 10, false},
		{"ne", 10.5, 10, true},
		{"ne", 10, 10, false},
		{"bogus", 10, 10, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%g_%g", tc.operator, tc.value, tc.threshold), func(t *testing.T) {
			assert.Equal(t, tc.holds, conditionHolds(tc.operator, tc.value, tc.threshold))
		})
	}
}

func TestNoConditionMatchRaisesNothing(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 90, Severity: storage.SeverityCritical},
	)
	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}
	ingestor, _ := newTestEngine(rules, alerts, notifier)

	err := ingestor.RecordMetric(context.Background(), testMetric("cpu_usage", "web-1", 50))
	require.NoError(t, err)

	assert.Empty(t, notifier.dispatched)
	assert.Empty(t, alerts.byKey)
	assert.Equal(t, 1, rules.evaluated[int64(1)])
	assert.Zero(t, rules.alerted[int64(1)])
}

func TestRepeatBreachSameKeyDeduplicates(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 90, Severity: storage.SeverityCritical},
	)
	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}
	ingestor, _ := newTestEngine(rules, alerts, notifier)

	ctx := context.Background()
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-1", 95)))

	key := storage.AlertKey(1, "web-1", "cpu_usage")
	firstSeen := alerts.byKey[key].FirstSeen

	// Second breach of the same key lands inside the cooldown window: the
	// open incident is refreshed, no new row and no new notification.
	alerts.now = func() time.Time { return firstSeen.Add(30 * time.Second) }
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-1", 99)))

	require.Len(t, alerts.byKey, 1)
	a := alerts.byKey[key]
	assert.Equal(t, 99.0, a.TriggerValue)
	assert.Equal(t, firstSeen, a.FirstSeen)
	assert.True(t, a.LastSeen.After(firstSeen))
	assert.Len(t, notifier.dispatched, 1)
}

func TestCooldownSuppressesNewIncidents(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 90, Severity: storage.SeverityCritical},
	)
	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}
	ingestor, _ := newTestEngine(rules, alerts, notifier)

	ctx := context.Background()
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-1", 95)))

	// A different source breaches the same rule 100s later. The rule-wide
	// cooldown (300s) is still running, so no second incident opens.
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-2", 97)))

	assert.Len(t, alerts.byKey, 1)
	assert.Len(t, notifier.dispatched, 1)
}

func TestCooldownExpiryAllowsNewIncident(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 90, Severity: storage.SeverityCritical},
	)
	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}

	logger := zap.NewNop()
	lifecycle := NewLifecycle(alerts, notifier, logger)
	evaluator := NewEvaluator(rules, lifecycle, logger)
	metrics := &fakeMetricStore{}
	ingestor := NewIngestor(metrics, evaluator, 5*time.Second, logger)

	ctx := context.Background()
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-1", 95)))
	firstSeen := alerts.byKey[storage.AlertKey(1, "web-1", "cpu_usage")].FirstSeen

	lifecycle.now = func() time.Time { return firstSeen.Add(301 * time.Second) }
	require.NoError(t, ingestor.RecordMetric(ctx, testMetric("cpu_usage", "web-2", 97)))

	assert.Len(t, alerts.byKey, 2)
	assert.Len(t, notifier.dispatched, 2)
}

func TestRecordMetricRejectsInvalidSamples(t *testing.T) {
	rules := newFakeRuleStore()
	alerts := newFakeAlertStore()
	ingestor, metrics := newTestEngine(rules, alerts, &fakeNotifier{})

	bad := testMetric("", "web-1", 10)
	err := ingestor.RecordMetric(context.Background(), bad)

	var validationErr *storage.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "metric_name", validationErr.Field)
	assert.Empty(t, metrics.saved)
}

func TestBatchPersistsOnceAndIsolatesEvaluationFailures(t *testing.T) {
	rule := testRule(1, "disk_usage",
		storage.AlertCondition{Operator: "gt", Value: 80, Severity: storage.SeverityWarning},
	)
	rules := newFakeRuleStore(rule)
	rules.failFor = "cpu_usage" // rule loading fails for this metric
	alerts := newFakeAlertStore()
	notifier := &fakeNotifier{}
	ingestor, metrics := newTestEngine(rules, alerts, notifier)

	batch := []*storage.Metric{
		testMetric("cpu_usage", "web-1", 99),
		testMetric("disk_usage", "web-1", 85),
	}
	err := ingestor.RecordMetricsBatch(context.Background(), batch)
	require.NoError(t, err)

	// One durable batch write, and the second sample was still evaluated
	// even though the first sample's evaluation failed.
	require.Len(t, metrics.batches, 1)
	assert.Len(t, metrics.saved, 2)
	require.Len(t, notifier.dispatched, 1)
	assert.Equal(t, int64(1), notifier.dispatched[0].ruleID)
}

func TestBatchRejectsInvalidSampleBeforePersisting(t *testing.T) {
	rules := newFakeRuleStore()
	alerts := newFakeAlertStore()
	ingestor, metrics := newTestEngine(rules, alerts, &fakeNotifier{})

	batch := []*storage.Metric{
		testMetric("cpu_usage", "web-1", 50),
		testMetric("cpu_usage", "", 60),
	}
	err := ingestor.RecordMetricsBatch(context.Background(), batch)

	var validationErr *storage.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, metrics.saved)
}

// channel that fails every send
type failingChannel struct{ typ string }

func (f *failingChannel) Type() string { return f.typ }
func (f *failingChannel) Send(context.Context, notify.Notification) error {
	return errors.New("send failed")
}

type recordingChannel struct {
	typ   string
	mu    sync.Mutex
	sends []notify.Notification
}

func (r *recordingChannel) Type() string { return r.typ }
func (r *recordingChannel) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, n)
	return nil
}

func TestChannelFailureDoesNotAffectAlertOrOtherChannels(t *testing.T) {
	rule := testRule(1, "cpu_usage",
		storage.AlertCondition{Operator: "gt", Value: 90, Severity: storage.SeverityCritical},
	)
	rule.Channels = []storage.NotificationChannelConfig{
		{Type: "webhook", Config: map[string]string{"url": "http://example.invalid"}},
		{Type: "slack", Config: map[string]string{"webhook_url": "http://example.invalid"}},
	}

	logger := zap.NewNop()
	dispatcher := notify.NewDispatcher(time.Second, logger)
	dispatcher.Register(&failingChannel{typ: "webhook"})
	healthy := &recordingChannel{typ: "slack"}
	dispatcher.Register(healthy)

	rules := newFakeRuleStore(rule)
	alerts := newFakeAlertStore()
	lifecycle := NewLifecycle(alerts, dispatcher, logger)
	evaluator := NewEvaluator(rules, lifecycle, logger)
	metrics := &fakeMetricStore{}
	ingestor := NewIngestor(metrics, evaluator, 5*time.Second, logger)

	err := ingestor.RecordMetric(context.Background(), testMetric("cpu_usage", "web-1", 95))
	require.NoError(t, err)

	// The failing webhook send neither blocked the slack send nor the
	// alert row.
	require.Len(t, healthy.sends, 1)
	assert.Len(t, alerts.byKey, 1)
	assert.Equal(t, 1, rules.alerted[int64(1)])
}
