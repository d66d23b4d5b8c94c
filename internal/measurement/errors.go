package measurement

import "errors"

var (
	// ErrNotifyFailed is returned when a value was stored but its change
	// notification could not be published.
	ErrNotifyFailed = errors.New("measurement: change notification failed")

	// ErrBadValue is returned when a stored value cannot be decoded.
	ErrBadValue = errors.New("measurement: stored value is not a decimal")
)
