package influxdb

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Record is one row of a Flux result table.
type Record struct {
	Time   time.Time
	Field  string
	Value  any
	Values map[string]any
}

// WritePoint writes a single point and waits for the server to accept it.
func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(measurement, tags, fields, ts)
	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Query runs a Flux query and yields its records in result order.
//
// The sequence is single-pass per call but the query is re-issued on every
// range, so a stored iterator can be ranged again for a fresh result. Breaking
// out of the loop closes the underlying response.
func (c *Client) Query(ctx context.Context, flux string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if !c.IsConnected() {
			yield(Record{}, ErrNotConnected)
			return
		}

		result, err := c.queryAPI.Query(ctx, flux)
		if err != nil {
			yield(Record{}, fmt.Errorf("%w: %w", ErrQueryFailed, err))
			return
		}
		defer result.Close() //nolint:errcheck // Response body close

		for result.Next() {
			rec := result.Record()
			r := Record{
				Time:   rec.Time(),
				Field:  rec.Field(),
				Value:  rec.Value(),
				Values: rec.Values(),
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := result.Err(); err != nil {
			yield(Record{}, fmt.Errorf("%w: %w", ErrQueryFailed, err))
		}
	}
}
