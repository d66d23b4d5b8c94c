package redis

import "errors"

var (
	// ErrConnectionFailed indicates the initial PING failed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrCommandFailed wraps any command error other than a missing key.
	ErrCommandFailed = errors.New("redis: command failed")
)
