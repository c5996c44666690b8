// Package alert delivers operator notifications about faulted items and
// failed runs.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/myfinance/service/metrics"
	natspkg "github.com/brojonat/myfinance/service/nats"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is one operator notification.
type Alert struct {
	Severity Severity
	Subject  string
	Body     string
	Fields   map[string]string
	At       time.Time
}

// Text renders the body followed by the sorted fields.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Body)
	if len(a.Fields) > 0 {
		keys := make([]string, 0, len(a.Fields))
		for k := range a.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, a.Fields[k])
		}
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\n%s\n", a.At.Format(time.RFC3339))
	}
	return b.String()
}

// Notifier delivers alerts. Delivery failures are returned, never panicked.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NATSNotifier publishes alerts to "alerts.{severity}".
type NATSNotifier struct {
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
}

func NewNATSNotifier(p natspkg.Publisher, m *metrics.Metrics) *NATSNotifier {
	return &NATSNotifier{publisher: p, metrics: m}
}

func (n *NATSNotifier) Notify(ctx context.Context, a Alert) error {
	err := n.publisher.PublishAlert(ctx, &natspkg.AlertEvent{
		Severity:  string(a.Severity),
		Subject:   a.Subject,
		Body:      a.Body,
		Fields:    a.Fields,
		Published: time.Now().UTC(),
	})
	if err != nil {
		n.metrics.RecordAlert("nats", "error")
		return err
	}
	n.metrics.RecordAlert("nats", "sent")
	return nil
}

// LogNotifier writes alerts to the log. It is the fallback when no other
// channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	args := []any{"severity", a.Severity, "subject", a.Subject, "body", a.Body}
	for k, v := range a.Fields {
		args = append(args, k, v)
	}
	n.logger.WarnContext(ctx, "alert", args...)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
