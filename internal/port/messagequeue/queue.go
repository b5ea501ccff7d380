// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Publisher sends messages to a subject.
type Publisher interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error
}

// Queue is a Publisher with connection lifecycle control.
type Queue interface {
	Publisher

	// Drain flushes pending publishes before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects for extraction lifecycle events.
const (
	SubjectExtractionCreated   = "extractions.created"
	SubjectExtractionCompleted = "extractions.completed"
	SubjectExtractionFailed    = "extractions.failed"
)

// SubjectWildcard matches every extraction subject; used for the stream.
const SubjectWildcard = "extractions.>"
