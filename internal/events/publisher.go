// Package events publishes compliance lifecycle events for collaborators such
// as PDF rendering and notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the compliance core.
const (
	SubjectInvoiceStatus = "fawtara.invoice.status_changed"
	SubjectJobDone       = "fawtara.compliance.job_done"
	SubjectJobFailed     = "fawtara.compliance.job_failed"
)

// Publisher delivers events. Delivery is best effort; callers log and carry on.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Noop drops every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) error { return nil }

// Envelope wraps every payload.
type Envelope struct {
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// NATSPublisher publishes JSON envelopes on a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials url. An empty url yields Noop.
func Connect(url string, logger *slog.Logger) (Publisher, func(), error) {
	if url == "" {
		return Noop{}, func() {}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("fawtara"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("events: connect nats: %w", err)
	}
	p := &NATSPublisher{conn: conn, logger: logger}
	return p, func() { _ = conn.Drain() }, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Subject: subject, OccurredAt: time.Now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Envelope
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, subject string, payload any) error {
	r.Events = append(r.Events, Envelope{Subject: subject, Data: payload})
	return nil
}

// Subjects returns the recorded subjects in order.
func (r *Recorder) Subjects() []string {
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Subject
	}
	return out
}
