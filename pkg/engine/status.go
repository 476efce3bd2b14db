package engine

import "github.com/google/uuid"

// Status is the connection status of an engine.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Error
	// Reconnecting is reserved for networked engines; embedded engines never
	// enter it.
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Event is emitted on every status transition. Err is set for Error.
type Event struct {
	Status Status
	Err    error
}

// Notification is a live query message delivered on a live channel.
type Notification struct {
	ID     uuid.UUID
	Action string
	Result any
}
