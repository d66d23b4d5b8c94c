package trigger

import "errors"

var (
	// ErrUnknownSource is returned for a source code outside OD, EB, AP, SC.
	ErrUnknownSource = errors.New("trigger: unknown source")

	// ErrMalformedRecord is returned when a ledger value cannot be decoded.
	ErrMalformedRecord = errors.New("trigger: malformed ledger record")
)

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}
