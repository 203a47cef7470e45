// Package events announces finished cycles on NATS so other services can
// react to new posts.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"auto_telegram_post_publisher/logging"
	"auto_telegram_post_publisher/pipeline"
)

// CycleEvent is the JSON payload published per cycle.
type CycleEvent struct {
	CycleID    string    `json:"cycle_id"`
	Outcome    string    `json:"outcome"`
	Row        int       `json:"row,omitempty"`
	Headline   string    `json:"headline,omitempty"`
	MessageID  int64     `json:"message_id,omitempty"`
	Permalink  string    `json:"permalink,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Degraded   []string  `json:"degraded,omitempty"`
	FailedStep string    `json:"failed_step,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewCycleEvent flattens a pipeline result.
func NewCycleEvent(r pipeline.Result) CycleEvent {
	ev := CycleEvent{
		CycleID:    r.CycleID,
		Outcome:    string(r.Outcome),
		Row:        r.Row,
		Headline:   r.Headline,
		ImageURL:   r.ImageURL,
		FailedStep: string(r.FailedStep),
		Error:      r.Failure(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Delivery != nil {
		ev.MessageID = r.Delivery.MessageID
		ev.Permalink = r.Delivery.Permalink
	}
	for _, s := range r.Degraded {
		ev.Degraded = append(ev.Degraded, string(s))
	}
	return ev
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

var _ Conn = (*nats.Conn)(nil)

// Publisher implements pipeline.Observer over a NATS connection.
type Publisher struct {
	nc      Conn
	subject string
	logger  *logging.Logger
}

var _ pipeline.Observer = (*Publisher)(nil)

// NewPublisher publishes cycle events on subject through nc.
func NewPublisher(nc Conn, subject string, logger *logging.Logger) *Publisher {
	return &Publisher{nc: nc, subject: subject, logger: logger.With("events")}
}

// Connect dials url and returns a Publisher for subject.
func Connect(url, subject string, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("telegram-post-publisher"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return NewPublisher(nc, subject, logger), nil
}

// CycleFinished publishes the event; failures are logged only.
func (p *Publisher) CycleFinished(_ context.Context, r pipeline.Result) {
	data, err := json.Marshal(NewCycleEvent(r))
	if err != nil {
		p.logger.Warnf("Failed to marshal cycle event: %v", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Warnf("Failed to publish cycle event: %v", err)
		return
	}
	p.logger.Infof("Published cycle %s to %s", r.CycleID, p.subject)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
