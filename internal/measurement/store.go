package measurement

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/metrics"
	"github.com/nerrad567/vendorsync/internal/trigger"
)

// Logger is the logging surface the store needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Parameter is the identity a device parameter measurement is filed under.
type Parameter struct {
	ID       int64
	TypeCode string
	Site     string
}

// Options configures a Store.
type Options struct {
	Backend   Backend
	Publisher Publisher
	Logger    Logger

	// Suffix is appended to every series name.
	Suffix string
}

// Store records device parameter values and gateway status, and announces
// every change of a parameter's value on the event bus.
type Store struct {
	backend   Backend
	publisher Publisher
	logger    Logger
	suffix    string
	newID     func() string
}

// NewStore validates opts and builds a Store.
func NewStore(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("measurement backend is required")
	}
	return &Store{
		backend:   opts.Backend,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		suffix:    opts.Suffix,
		newID:     uuid.NewString,
	}, nil
}

// ParameterSeries returns the series holding a parameter's values.
func (s *Store) ParameterSeries(parameterID int64) Series {
	return Series{
		Name:     DeviceParametersSeries + s.suffix,
		TagKey:   TagParameter,
		TagValue: strconv.FormatInt(parameterID, 10),
	}
}

// GatewaySeries returns the series holding a gateway's online status.
func (s *Store) GatewaySeries(externalID string) Series {
	return Series{
		Name:     GatewayOnlineSeries + s.suffix,
		TagKey:   TagExternalID,
		TagValue: externalID,
	}
}

// Add writes value for p at t tagged with type, trigger source and extraTags.
//
// When the parameter had no earlier value, or its latest value differs from
// value, a ChangeEvent is published and returned. The write is kept even if
// publishing fails; in that case the event is returned with an error wrapping
// ErrNotifyFailed.
//
// Parameters:
//   - ctx: Context for backend and publisher calls
//   - p: Parameter identity, type code and site
//   - t: Measurement time; it need not be newer than stored points
//   - value: Value compared by decimal equality with the point of greatest
//     time already stored
//   - source: Trigger source tag; must be a known trigger.Source
//   - extraTags: Additional tags; the type, trigger and parameter tags win
//
// Returns:
//   - *ChangeEvent: Published event, or nil when the value is unchanged
//   - error: trigger.ErrUnknownSource, a backend error, or ErrNotifyFailed
func (s *Store) Add(ctx context.Context, p Parameter, t time.Time, value decimal.Decimal, source trigger.Source, extraTags map[string]string) (*ChangeEvent, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", trigger.ErrUnknownSource, source)
	}

	series := s.ParameterSeries(p.ID)
	previous, err := s.backend.Latest(ctx, series)
	if err != nil {
		return nil, fmt.Errorf("reading latest for parameter %d: %w", p.ID, err)
	}

	tags := make(map[string]string, len(extraTags)+2)
	maps.Copy(tags, extraTags)
	tags[TagType] = p.TypeCode
	tags[TagTrigger] = string(source)

	if err := s.backend.Write(ctx, series, Measurement{Time: t, Value: value, Tags: tags}); err != nil {
		return nil, fmt.Errorf("writing parameter %d: %w", p.ID, err)
	}
	metrics.MeasurementWritten(series.Name)

	if previous != nil && previous.Value.Equal(value) {
		return nil, nil
	}

	ev := &ChangeEvent{
		ID:              s.newID(),
		Action:          ActionChangeRecord,
		DeviceParameter: p.ID,
		Type:            p.TypeCode,
		Current:         value,
		Trigger:         source,
		Site:            p.Site,
		Time:            t.UTC(),
	}
	if previous != nil {
		prev := previous.Value
		ev.Previous = &prev
	}

	if s.publisher == nil {
		return ev, nil
	}
	if err := s.publisher.PublishChange(ctx, *ev); err != nil {
		if s.logger != nil {
			s.logger.Error("change notification not delivered",
				"parameter", p.ID, "error", err)
		}
		return ev, fmt.Errorf("%w: parameter %d: %w", ErrNotifyFailed, p.ID, err)
	}
	metrics.ChangePublished()
	return ev, nil
}

// Latest returns the newest value of a parameter, or nil if it has none.
func (s *Store) Latest(ctx context.Context, parameterID int64) (*Measurement, error) {
	return s.backend.Latest(ctx, s.ParameterSeries(parameterID))
}

// All yields a parameter's values strictly after since, newest first.
func (s *Store) All(ctx context.Context, parameterID int64, since time.Time) iter.Seq2[Measurement, error] {
	return s.backend.Range(ctx, s.ParameterSeries(parameterID), since)
}

// Count returns how many values a parameter has.
func (s *Store) Count(ctx context.Context, parameterID int64) (int64, error) {
	return s.backend.Count(ctx, s.ParameterSeries(parameterID))
}

// Exists reports whether a parameter has any value.
func (s *Store) Exists(ctx context.Context, parameterID int64) (bool, error) {
	n, err := s.Count(ctx, parameterID)
	return n > 0, err
}

// AddGatewayStatus records 1 for an online gateway and 0 otherwise.
func (s *Store) AddGatewayStatus(ctx context.Context, externalID string, t time.Time, online bool) error {
	value := decimal.Zero
	if online {
		value = decimal.NewFromInt(1)
	}
	series := s.GatewaySeries(externalID)
	if err := s.backend.Write(ctx, series, Measurement{Time: t, Value: value}); err != nil {
		return fmt.Errorf("writing gateway status for %s: %w", externalID, err)
	}
	metrics.MeasurementWritten(series.Name)
	return nil
}

// LatestGatewayStatus returns the newest online status of a gateway.
// ok is false when none has been recorded.
func (s *Store) LatestGatewayStatus(ctx context.Context, externalID string) (online, ok bool, err error) {
	m, err := s.backend.Latest(ctx, s.GatewaySeries(externalID))
	if err != nil || m == nil {
		return false, false, err
	}
	return m.Value.Equal(decimal.NewFromInt(1)), true, nil
}
