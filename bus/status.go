package bus

import "time"

// Status represents the state of the bus connection.
type Status int

// Connection lifecycle states. Closed is terminal: a closed client must not
// be reused.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transition is a single state-machine step, delivered through the feed
// returned by Client.Events. Connection callbacks from the backend are
// expressed as transitions on this feed rather than as ad-hoc flag flips,
// which keeps the state machine observable in tests.
type Transition struct {
	From   Status
	To     Status
	Reason string
	At     time.Time
}

// transition records a state change, logs it, and forwards it to the
// observer feed without blocking. Dropped transitions only affect
// observers, never the state itself.
func (c *Client) transition(to Status, reason string) {
	from := c.Status()
	if from == to {
		return
	}
	if from == StatusClosed {
		// Closed is terminal.
		return
	}
	c.status.Store(to)

	c.logger.Debugf("status %s -> %s (%s)", from, to, reason)

	t := Transition{From: from, To: to, Reason: reason, At: time.Now()}
	select {
	case c.events <- t:
	default:
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	v := c.status.Load()
	if v == nil {
		return StatusDisconnected
	}
	return v.(Status)
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Events returns the status transition feed. The feed is buffered; slow
// consumers miss transitions rather than stalling the connection callbacks.
func (c *Client) Events() <-chan Transition {
	return c.events
}
