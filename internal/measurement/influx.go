package measurement

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/infrastructure/influxdb"
)

// Field names written on every point. "decimal" carries the exact value and
// is the one read back; "value" is a float copy for dashboards.
const (
	fieldDecimal = "decimal"
	fieldValue   = "value"
)

// InfluxClient is the subset of influxdb.Client the backend uses.
type InfluxClient interface {
	Bucket() string
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
	Query(ctx context.Context, flux string) iter.Seq2[influxdb.Record, error]
}

// InfluxBackend stores measurements in InfluxDB.
type InfluxBackend struct {
	client InfluxClient
}

// NewInfluxBackend wraps client.
func NewInfluxBackend(client InfluxClient) *InfluxBackend {
	return &InfluxBackend{client: client}
}

// Write stores m as one point with both value fields.
func (b *InfluxBackend) Write(ctx context.Context, s Series, m Measurement) error {
	fields := map[string]any{
		fieldDecimal: m.Value.String(),
		fieldValue:   m.Value.InexactFloat64(),
	}
	return b.client.WritePoint(ctx, s.Name, tagsFor(s, m), fields, m.Time)
}

// Latest returns the newest point in s.
func (b *InfluxBackend) Latest(ctx context.Context, s Series) (*Measurement, error) {
	for rec, err := range b.client.Query(ctx, latestQuery(b.client.Bucket(), s)) {
		if err != nil {
			return nil, err
		}
		m, err := recordToMeasurement(rec)
		if err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, nil
}

// Range yields points strictly after since, newest first.
func (b *InfluxBackend) Range(ctx context.Context, s Series, since time.Time) iter.Seq2[Measurement, error] {
	flux := rangeQuery(b.client.Bucket(), s, since)
	return func(yield func(Measurement, error) bool) {
		for rec, err := range b.client.Query(ctx, flux) {
			if err != nil {
				yield(Measurement{}, err)
				return
			}
			m, err := recordToMeasurement(rec)
			if !yield(m, err) || err != nil {
				return
			}
		}
	}
}

// Count returns the number of points in s.
func (b *InfluxBackend) Count(ctx context.Context, s Series) (int64, error) {
	for rec, err := range b.client.Query(ctx, countQuery(b.client.Bucket(), s)) {
		if err != nil {
			return 0, err
		}
		switch v := rec.Value.(type) {
		case int64:
			return v, nil
		case uint64:
			return int64(v), nil
		case float64:
			return int64(v), nil
		default:
			return 0, fmt.Errorf("%w: count returned %T", ErrBadValue, rec.Value)
		}
	}
	return 0, nil
}

func seriesFilter(bucket string, s Series, start string) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r[%s] == %s and r._field == %s)
  |> group()`,
		fluxString(bucket), start, fluxString(s.Name), fluxString(s.TagKey), fluxString(s.TagValue), fluxString(fieldDecimal))
}

func latestQuery(bucket string, s Series) string {
	return seriesFilter(bucket, s, "0") + `
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`
}

// rangeQuery starts one nanosecond after since since Flux range starts are inclusive.
func rangeQuery(bucket string, s Series, since time.Time) string {
	start := "0"
	if !since.IsZero() {
		start = since.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano)
	}
	return seriesFilter(bucket, s, start) + `
  |> sort(columns: ["_time"], desc: true)`
}

func countQuery(bucket string, s Series) string {
	return seriesFilter(bucket, s, "0") + `
  |> count()`
}

// fluxString quotes v as a Flux string literal.
func fluxString(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "${", `\${`)
	return `"` + r.Replace(v) + `"`
}

func recordToMeasurement(rec influxdb.Record) (Measurement, error) {
	raw, ok := rec.Value.(string)
	if !ok {
		return Measurement{}, fmt.Errorf("%w: got %T", ErrBadValue, rec.Value)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %q", ErrBadValue, raw)
	}

	tags := make(map[string]string)
	for k, v := range rec.Values {
		if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
			continue
		}
		if sv, ok := v.(string); ok {
			tags[k] = sv
		}
	}
	return Measurement{Time: rec.Time.UTC(), Value: value, Tags: tags}, nil
}
