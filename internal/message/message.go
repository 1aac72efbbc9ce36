// Package message defines the typed messages exchanged between
// transports and the orchestration core, their JSON wire form, and the
// content hash used for deduplication.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders message handling intent. It does not affect dispatch
// order; it is carried for transports and policy overlays.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Envelope is the base of every typed message.
type Envelope struct {
	MessageID     string         `json:"message_id"`
	Sender        string         `json:"sender"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope mints an envelope with a fresh UUID and the current UTC time.
func NewEnvelope(sender string) Envelope {
	return Envelope{
		MessageID: uuid.NewString(),
		Sender:    sender,
		Timestamp: time.Now().UTC(),
		Priority:  PriorityNormal,
	}
}

// Message is implemented by every typed message variant.
type Message interface {
	// Type returns the stable string tag used as the wire discriminator.
	Type() string
	// Env returns the mutable envelope.
	Env() *Envelope
}
