// Package security records discrete security-relevant events and hands
// them to a correlation hook.
package security

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// EventStore is the append surface for security events.
type EventStore interface {
	SaveSecurityEvent(ctx context.Context, e *storage.SecurityEvent) error
}

// Correlator is invoked after every recorded event. Implementations run
// whatever cross-event analysis they want; the recorder does not depend
// on the outcome.
type Correlator interface {
	Analyze(ctx context.Context, e *storage.SecurityEvent)
}

// LogCorrelator is the default hook: it only records that correlation was
// triggered. Real correlation logic plugs in behind the same interface.
type LogCorrelator struct {
	logger *zap.Logger
}

func NewLogCorrelator(logger *zap.Logger) *LogCorrelator {
	return &LogCorrelator{logger: logger}
}

func (c *LogCorrelator) Analyze(ctx context.Context, e *storage.SecurityEvent) {
	c.logger.Debug("Correlation triggered for security event",
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("severity", e.Severity))
}

// Recorder validates, persists and correlates security events.
type Recorder struct {
	store      EventStore
	correlator Correlator
	logger     *zap.Logger
}

func NewRecorder(store EventStore, correlator Correlator, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:      store,
		correlator: correlator,
		logger:     logger,
	}
}

// Record appends one event and triggers correlation. Returns the
// externally visible event id.
func (r *Recorder) Record(ctx context.Context, e *storage.SecurityEvent) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.EventTimestamp.IsZero() {
		e.EventTimestamp = time.Now()
	}

	if err := r.store.SaveSecurityEvent(ctx, e); err != nil {
		return "", err
	}

	r.correlator.Analyze(ctx, e)

	r.logger.Info("Recorded security event",
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("severity", e.Severity),
		zap.String("organization_id", e.OrganizationID))

	return e.EventID, nil
}
