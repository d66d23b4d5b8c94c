package measurement

import (
	"context"
	"iter"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Tag keys written on device parameter measurements.
const (
	TagParameter  = "dp"
	TagType       = "type"
	TagTrigger    = "trigger"
	TagExternalID = "external_id"
)

// Base series names. A configured suffix is appended to both.
const (
	DeviceParametersSeries = "device_parameters"
	GatewayOnlineSeries    = "gateway_online"
)

// Series identifies every point of one named series that carries a given
// value for its identifying tag, whatever its other tags are.
type Series struct {
	Name     string
	TagKey   string
	TagValue string
}

// Measurement is one stored value.
type Measurement struct {
	Time  time.Time
	Value decimal.Decimal
	Tags  map[string]string
}

// Backend persists measurements.
//
// Writing a point with the same time and tag set as an existing point
// replaces it. Latest and Range consider every tag variant in the series.
type Backend interface {
	Write(ctx context.Context, s Series, m Measurement) error
	Latest(ctx context.Context, s Series) (*Measurement, error)

	// Range yields points strictly after since, newest first. A zero since
	// means the whole series. Each range over the returned sequence reads
	// the backend afresh.
	Range(ctx context.Context, s Series, since time.Time) iter.Seq2[Measurement, error]

	Count(ctx context.Context, s Series) (int64, error)
}

// tagsFor builds the full tag set of a point in s.
func tagsFor(s Series, m Measurement) map[string]string {
	tags := make(map[string]string, len(m.Tags)+1)
	maps.Copy(tags, m.Tags)
	tags[s.TagKey] = s.TagValue
	return tags
}
