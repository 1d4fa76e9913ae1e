// Package notify fans triggered alerts out to configured channels.
// Channel sends are isolated from one another: a failing transport is
// logged and the remaining channels are still attempted, and no transport
// failure ever propagates back into alert creation.
package notify

import (
	"context"
	"time"

	"github.com/opsfleet-labs/vantage/internal/storage"
	"go.uber.org/zap"
)

// Notification carries everything a transport needs to render a message.
type Notification struct {
	Alert     *storage.ActiveAlert
	Rule      *storage.AlertRule
	Metric    *storage.Metric
	Condition storage.AlertCondition
	Channel   storage.NotificationChannelConfig
}

// Channel is one outbound transport. Implementations must honor the
// context deadline; the dispatcher bounds every send.
type Channel interface {
	Type() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher routes a firing alert to the rule's channels.
type Dispatcher struct {
	channels    map[string]Channel
	sendTimeout time.Duration
	logger      *zap.Logger
}

func NewDispatcher(sendTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		channels:    make(map[string]Channel),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Register adds a transport implementation. Later registrations for the
// same type replace earlier ones.
func (d *Dispatcher) Register(c Channel) {
	d.channels[c.Type()] = c
}

// Dispatch sends the alert through each of the rule's channels. Channels
// whose severity filter excludes the firing condition are skipped.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	rule *storage.AlertRule,
	alert *storage.ActiveAlert,
	metric *storage.Metric,
	condition storage.AlertCondition,
) {
	for _, channelCfg := range rule.Channels {
		if !severityAllowed(channelCfg.SeverityFilter, condition.Severity) {
			continue
		}

		impl, ok := d.channels[channelCfg.Type]
		if !ok {
			d.logger.Warn("No transport registered for channel type",
				zap.String("channel_type", channelCfg.Type),
				zap.Int64("rule_id", rule.ID))
			continue
		}

		n := Notification{
			Alert:     alert,
			Rule:      rule,
			Metric:    metric,
			Condition: condition,
			Channel:   channelCfg,
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := impl.Send(sendCtx, n)
		cancel()

		if err != nil {
			d.logger.Error("Notification send failed",
				zap.String("channel_type", channelCfg.Type),
				zap.Int64("rule_id", rule.ID),
				zap.Int64("alert_id", alert.ID),
				zap.Error(err))
			continue
		}

		d.logger.Info("Notification sent",
			zap.String("channel_type", channelCfg.Type),
			zap.Int64("rule_id", rule.ID),
			zap.Int64("alert_id", alert.ID),
			zap.String("severity", condition.Severity))
	}
}

func severityAllowed(filter []string, severity string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range filter {
		if s == severity {
			return true
		}
	}
	return false
}
