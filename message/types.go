package message

// Type identifies the kind of message carried by an envelope.
// Values are part of the JSON wire contract and must match exactly
// across implementations.
type Type string

// Message kinds understood by the service bus.
const (
	TypeProgressUpdate    Type = "progress_update"
	TypeDiscoveryStart    Type = "discovery_start"
	TypeDiscoveryComplete Type = "discovery_complete"
	TypeDiscoveryError    Type = "discovery_error"
	TypeSystemStatus      Type = "system_status"
)

// IsValid reports whether the type is one of the known message kinds.
func (t Type) IsValid() bool {
	switch t {
	case TypeProgressUpdate, TypeDiscoveryStart, TypeDiscoveryComplete,
		TypeDiscoveryError, TypeSystemStatus:
		return true
	default:
		return false
	}
}

// String returns the wire value of the type.
func (t Type) String() string {
	return string(t)
}

// Priority indicates delivery importance of a message.
// Values are part of the JSON wire contract.
type Priority string

// Message priorities.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid reports whether the priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// String returns the wire value of the priority.
func (p Priority) String() string {
	return string(p)
}
