package orchestrator

import "errors"

// Domain errors for the orchestrator package.
var (
	// ErrNotWritable is returned when a change is requested for a parameter
	// that has no registered write capability.
	ErrNotWritable = errors.New("orchestrator: parameter has no write capability")

	// ErrUnknownServer is returned when a gateway's recorded server has no client.
	ErrUnknownServer = errors.New("orchestrator: unknown vendor server")

	// ErrQueueFull is returned when a push update cannot be queued.
	ErrQueueFull = errors.New("orchestrator: push queue full")

	// ErrBadCommand is returned for an unparseable change command payload.
	ErrBadCommand = errors.New("orchestrator: invalid change command")
)
