package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// KV is the shared key-value store backing the ledger.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Logger is the logging surface the correlator needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// PendingChange is the most recent change request recorded for a parameter.
type PendingChange struct {
	ParameterID int64
	Target      decimal.Decimal
	Source      Source
}

// LedgerKey returns the store key for a parameter's pending change.
func LedgerKey(parameterID int64) string {
	return "state_change_req/" + strconv.FormatInt(parameterID, 10)
}

// Encode renders a pending change as "{target}/{source}".
func (p PendingChange) Encode() string {
	return p.Target.String() + "/" + string(p.Source)
}

// DecodePendingChange parses a ledger value written by Encode.
func DecodePendingChange(parameterID int64, raw string) (PendingChange, error) {
	idx := strings.LastIndex(raw, "/")
	if idx <= 0 || idx == len(raw)-1 {
		return PendingChange{}, fmt.Errorf("%w: %q", ErrMalformedRecord, raw)
	}
	target, err := decimal.NewFromString(raw[:idx])
	if err != nil {
		return PendingChange{}, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, raw, err)
	}
	source, err := ParseSource(raw[idx+1:])
	if err != nil {
		return PendingChange{}, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, raw, err)
	}
	return PendingChange{ParameterID: parameterID, Target: target, Source: source}, nil
}

// Correlator attributes observed values to the change request that asked
// for them.
//
// The ledger holds one record per parameter. A record is never removed
// after it matches: a later observation of the same value is attributed to
// the same source until a newer request overwrites the record.
type Correlator struct {
	kv     KV
	logger Logger
}

// NewCorrelator builds a correlator over kv. logger may be nil.
func NewCorrelator(kv KV, logger Logger) *Correlator {
	return &Correlator{kv: kv, logger: logger}
}

// RecordPendingChange stores target and source as the pending request for
// the parameter, replacing any earlier record.
func (c *Correlator) RecordPendingChange(ctx context.Context, parameterID int64, target decimal.Decimal, source Source) error {
	if !source.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	p := PendingChange{ParameterID: parameterID, Target: target, Source: source}
	if err := c.kv.Set(ctx, LedgerKey(parameterID), p.Encode()); err != nil {
		return fmt.Errorf("recording pending change for %d: %w", parameterID, err)
	}
	return nil
}

// Pending returns the recorded change for the parameter, or nil if none.
func (c *Correlator) Pending(ctx context.Context, parameterID int64) (*PendingChange, error) {
	raw, ok, err := c.kv.Get(ctx, LedgerKey(parameterID))
	if err != nil {
		return nil, fmt.Errorf("reading pending change for %d: %w", parameterID, err)
	}
	if !ok {
		return nil, nil
	}
	p, err := DecodePendingChange(parameterID, raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Attribute returns the source of the pending request whose target equals
// observed exactly, and OnDevice otherwise. A malformed record is logged and
// yields OnDevice. A store error is returned alongside OnDevice so the caller
// can still record the value.
func (c *Correlator) Attribute(ctx context.Context, parameterID int64, observed decimal.Decimal) (Source, error) {
	p, err := c.Pending(ctx, parameterID)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("pending change unreadable, attributing to device",
				"parameter", parameterID, "error", err)
		}
		if isMalformed(err) {
			return OnDevice, nil
		}
		return OnDevice, err
	}
	if p == nil {
		return OnDevice, nil
	}
	if p.Target.Equal(observed) {
		return p.Source, nil
	}
	return OnDevice, nil
}
