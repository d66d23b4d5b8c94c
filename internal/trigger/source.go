package trigger

import "fmt"

// Source identifies what caused a measurement to be recorded.
type Source string

const (
	// OnDevice is a change made at the device itself or one with no known cause.
	OnDevice Source = "OD"
	// EBE is a change requested by the building energy engine.
	EBE Source = "EB"
	// API is a change requested through the platform API.
	API Source = "AP"
	// Schedule is a change requested by a schedule.
	Schedule Source = "SC"
)

// Sources lists every known source.
var Sources = []Source{OnDevice, EBE, API, Schedule}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case OnDevice, EBE, API, Schedule:
		return true
	}
	return false
}

func (s Source) String() string {
	return string(s)
}

// ParseSource converts a two-letter code into a Source.
func ParseSource(code string) (Source, error) {
	s := Source(code)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, code)
	}
	return s, nil
}
