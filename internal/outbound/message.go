package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned when attempting to enqueue after Stop
	ErrQueueClosed = errors.New("outbound queue is closed")

	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("outbound queue is full")

	// ErrDrainTimeout is returned when Drain gives up before the queue empties
	ErrDrainTimeout = errors.New("timed out draining outbound queue")

	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("outbound queue already started")

	// ErrEmptyDestination is returned when a message has no destination
	ErrEmptyDestination = errors.New("message destination cannot be empty")
)

// Status is the delivery state of a message.
type Status string

// Message delivery states
const (
	StatusPending    Status = "PENDING"
	StatusSending    Status = "SENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Message is one queued notification. Only the worker goroutine mutates it
// once it has been enqueued.
type Message struct {
	ID          uuid.UUID `json:"id"`
	Destination string    `json:"destination"`
	Payload     []byte    `json:"payload"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink delivers a payload to a destination.
type Sink interface {
	Send(ctx context.Context, destination string, payload []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, destination string, payload []byte) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, destination string, payload []byte) error {
	return f(ctx, destination, payload)
}

// Stats are the queue's running counters. Failed counts failed send attempts;
// DeadLetter counts messages that gave up.
type Stats struct {
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Retried    int64 `json:"retried"`
	DeadLetter int64 `json:"dead_letter"`
	QueueSize  int   `json:"queue_size"`
}

// Delivery outcomes passed to Recorder.ObserveDelivery.
const (
	OutcomeSent       = "sent"
	OutcomeRetried    = "retried"
	OutcomeDeadLetter = "dead_letter"
)

// Recorder receives delivery outcomes, typically a metrics collector.
type Recorder interface {
	ObserveDelivery(outcome string)
	ObserveQueueDepth(depth int)
}
