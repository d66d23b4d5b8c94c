package topology

import "errors"

var (
	// ErrGatewayNotFound is returned when no gateway matches.
	ErrGatewayNotFound = errors.New("topology: gateway not found")

	// ErrDeviceNotFound is returned when no device matches.
	ErrDeviceNotFound = errors.New("topology: device not found")

	// ErrParameterNotFound is returned when no parameter matches.
	ErrParameterNotFound = errors.New("topology: parameter not found")
)
