package pushchannel

import "errors"

var (
	// ErrRetriesExhausted is returned by Run when MaxRetries consecutive
	// connection attempts failed.
	ErrRetriesExhausted = errors.New("pushchannel: reconnect retries exhausted")

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("pushchannel: manager already started")
)
