package credential

import "errors"

var (
	// ErrNoServer is returned when a session has no server name.
	ErrNoServer = errors.New("credential: session has no server")

	// ErrIncomplete is returned when storing a session missing its key or key id.
	ErrIncomplete = errors.New("credential: session needs both key and key id")
)
