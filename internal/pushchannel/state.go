package pushchannel

import (
	"fmt"
	"time"
)

// Phase is the connection phase of a push channel.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the names
// produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*p = Disconnected
	case "connecting":
		*p = Connecting
	case "connected":
		*p = Connected
	default:
		return fmt.Errorf("pushchannel: unknown phase %q", text)
	}
	return nil
}

// State is a snapshot of the manager's state.
type State struct {
	Server string `json:"server"`
	Phase  Phase  `json:"phase"`

	// HeartbeatCount is the number of ticks since the last ping.
	HeartbeatCount int `json:"heartbeat_count"`

	// ReconnectAttempts counts every connection attempt after the first
	// since Run started. It is never reset.
	ReconnectAttempts int `json:"reconnect_attempts"`

	// ConsecutiveFailures counts failed attempts since the last successful
	// connection.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Disconnects counts transitions out of Connected.
	Disconnects int `json:"disconnects"`

	ConnectedSince time.Time `json:"connected_since,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
}
