package recognition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// AttendanceEvent is published after each successful ledger write. Consumers
// (dashboards, notification bots) subscribe on the configured subject.
type AttendanceEvent struct {
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Status     string    `json:"status"`
	Date       string    `json:"date"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher is what the worker needs; nil disables publishing.
type EventPublisher interface {
	Publish(event *AttendanceEvent) error
}

type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *NATSPublisher) Publish(event *AttendanceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
