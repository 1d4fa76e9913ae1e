package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// EmailChannel delivers alerts over SMTP. The recipient comes from the
// rule's channel config ("to"); server settings come from service config.
type EmailChannel struct {
	host   string
	port   int
	from   string
	logger *zap.Logger

	// sendMail is swappable for tests.
	sendMail func(addr, from string, to []string, msg []byte) error
}

func NewEmailChannel(host string, port int, from string, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		host:   host,
		port:   port,
		from:   from,
		logger: logger,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (e *EmailChannel) Type() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, n Notification) error {
	to := n.Channel.Config["to"]
	if to == "" {
		return fmt.Errorf("email channel config missing 'to'")
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(n.Condition.Severity), n.Alert.Title)
	body := fmt.Sprintf(
		"%s\r\n\r\nMetric: %s\r\nSource: %s\r\nValue: %g (threshold %s %g)\r\nTriggered: %s\r\n",
		n.Alert.Description,
		n.Metric.MetricName,
		n.Metric.Source,
		n.Alert.TriggerValue,
		n.Condition.Operator,
		n.Condition.Value,
		n.Alert.TriggerTimestamp.Format("2006-01-02 15:04:05 MST"),
	)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		e.from, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	// net/smtp has no context support; run the send in a goroutine so the
	// dispatcher's deadline still bounds the call.
	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, e.from, strings.Split(to, ","), msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	}
}
