// Package message defines the typed message envelope exchanged over the
// service bus, its progress specialization, and the JSON wire format shared
// with other SimBuilder services.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simbuilder/servicebus/errors"
)

// Envelope is the standard message carried over the bus.
//
// Envelope is immutable after creation - all fields are set during
// construction and cannot be modified. This keeps message identity stable
// from publish through acknowledgment.
//
// Construction uses functional options:
//
//	// Simple message (most common)
//	env, err := NewEnvelope(TypeSystemStatus, "api-gateway", payload)
//
//	// Session-scoped message with priority
//	env, err := NewEnvelope(TypeDiscoveryStart, "discovery-agent", payload,
//	    WithSessionID(sessionID),
//	    WithPriority(PriorityHigh))
type Envelope struct {
	id        string
	msgType   Type
	sessionID string
	createdAt time.Time
	priority  Priority
	source    string
	payload   map[string]any
}

// Option is a functional option for configuring Envelope construction.
type Option func(*Envelope)

// WithSessionID attaches a session identifier for session-scoped correlation.
func WithSessionID(sessionID string) Option {
	return func(e *Envelope) {
		e.sessionID = sessionID
	}
}

// WithPriority overrides the default normal priority.
func WithPriority(p Priority) Option {
	return func(e *Envelope) {
		e.priority = p
	}
}

// WithTime sets a specific creation timestamp instead of time.Now().
// Useful for historical data import or testing.
func WithTime(createdAt time.Time) Option {
	return func(e *Envelope) {
		e.createdAt = createdAt
	}
}

// WithID sets an explicit message id instead of a generated uuid.
func WithID(id string) Option {
	return func(e *Envelope) {
		e.id = id
	}
}

// NewEnvelope creates a validated message envelope.
//
// Parameters:
//   - msgType: one of the known message kinds
//   - source: identifier of the service or component creating this message
//   - payload: free-form string-keyed payload; required, may be empty but not nil
//   - opts: optional configuration functions
func NewEnvelope(msgType Type, source string, payload map[string]any, opts ...Option) (*Envelope, error) {
	e := &Envelope{
		id:        uuid.New().String(),
		msgType:   msgType,
		createdAt: time.Now().UTC(),
		priority:  PriorityNormal,
		source:    source,
		payload:   payload,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// ID returns the unique message identifier.
func (e *Envelope) ID() string {
	return e.id
}

// Type returns the message kind.
func (e *Envelope) Type() Type {
	return e.msgType
}

// SessionID returns the session identifier, empty when not session-scoped.
func (e *Envelope) SessionID() string {
	return e.sessionID
}

// CreatedAt returns the creation timestamp.
func (e *Envelope) CreatedAt() time.Time {
	return e.createdAt
}

// Priority returns the message priority.
func (e *Envelope) Priority() Priority {
	return e.priority
}

// Source returns the identifier of the producing component.
func (e *Envelope) Source() string {
	return e.source
}

// Payload returns the free-form payload map. Callers must not mutate it.
func (e *Envelope) Payload() map[string]any {
	return e.payload
}

// Validate checks required fields and enum values.
func (e *Envelope) Validate() error {
	if !e.msgType.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate",
			fmt.Sprintf("unknown message type %q", e.msgType))
	}
	if e.payload == nil {
		return errors.WrapInvalid(errors.ErrPayloadRequired, "Envelope", "Validate", "payload cannot be nil")
	}
	if e.source == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate", "source cannot be empty")
	}
	if !e.priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate",
			fmt.Sprintf("unknown priority %q", e.priority))
	}
	if e.id == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate", "id cannot be empty")
	}
	return nil
}

// wireFormat is the JSON wire representation of an Envelope.
// Field names are part of the cross-service contract; timestamps travel as
// ISO-8601 (RFC 3339) strings.
type wireFormat struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Priority  Priority       `json:"priority"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFormat{
		ID:        e.id,
		Type:      e.msgType,
		SessionID: e.sessionID,
		CreatedAt: e.createdAt,
		Priority:  e.priority,
		Source:    e.source,
		Payload:   e.payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded envelope is
// validated; malformed or incomplete messages are rejected.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Envelope", "UnmarshalJSON", "decode wire format")
	}

	e.id = wire.ID
	e.msgType = wire.Type
	e.sessionID = wire.SessionID
	e.createdAt = wire.CreatedAt
	e.priority = wire.Priority
	e.source = wire.Source
	e.payload = wire.Payload

	return e.Validate()
}

// Decode parses and validates an envelope from its wire representation.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &e, nil
}
