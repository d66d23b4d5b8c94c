package measurement

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps measurements in process memory. It mirrors the
// InfluxDB point identity rules and is used by tests and dry runs.
type MemoryBackend struct {
	mu     sync.RWMutex
	points map[string][]Measurement
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{points: make(map[string][]Measurement)}
}

func seriesKey(s Series) string {
	return s.Name + "\x00" + s.TagKey + "\x00" + s.TagValue
}

func tagSetKey(tags map[string]string) string {
	keys := slices.Sorted(maps.Keys(tags))
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
		b.WriteByte(',')
	}
	return b.String()
}

// Write stores m, replacing a point with the same time and tag set.
func (b *MemoryBackend) Write(_ context.Context, s Series, m Measurement) error {
	m.Tags = tagsFor(s, m)
	m.Time = m.Time.UTC()
	key := seriesKey(s)
	identity := tagSetKey(m.Tags)

	b.mu.Lock()
	defer b.mu.Unlock()

	points := b.points[key]
	for i, p := range points {
		if p.Time.Equal(m.Time) && tagSetKey(p.Tags) == identity {
			points[i] = m
			return nil
		}
	}
	b.points[key] = append(points, m)
	return nil
}

// Latest returns the newest point in s.
func (b *MemoryBackend) Latest(_ context.Context, s Series) (*Measurement, error) {
	points := b.sorted(s)
	if len(points) == 0 {
		return nil, nil
	}
	latest := points[0]
	return &latest, nil
}

// Range yields points after since, newest first.
func (b *MemoryBackend) Range(_ context.Context, s Series, since time.Time) iter.Seq2[Measurement, error] {
	return func(yield func(Measurement, error) bool) {
		for _, p := range b.sorted(s) {
			if !since.IsZero() && !p.Time.After(since) {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Count returns the number of points in s.
func (b *MemoryBackend) Count(_ context.Context, s Series) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.points[seriesKey(s)])), nil
}

// sorted returns a copy of s's points, newest first.
func (b *MemoryBackend) sorted(s Series) []Measurement {
	b.mu.RLock()
	points := slices.Clone(b.points[seriesKey(s)])
	b.mu.RUnlock()

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.After(points[j].Time)
	})
	return points
}
