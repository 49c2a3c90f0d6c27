package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/keeper/internal/timebucket"
)

// Bucket is one time-series interval [Start, End) and the records in it.
type Bucket[T any] struct {
	Start   time.Time
	End     time.Time
	Label   string
	Records []T
}

// BucketedTimeSeries splits [start, end) into buckets of granularity g and
// reduces each bucket to one row. Rows are oldest first and empty buckets are
// still reduced. Records outside [start, end) are ignored; every other record
// lands in exactly one bucket.
func BucketedTimeSeries[T, R any](records []T, at func(T) time.Time, start, end time.Time, g timebucket.Granularity, reduce func(Bucket[T]) R) ([]R, error) {
	starts, err := timebucket.GenerateBuckets(start, end, g)
	if err != nil {
		return nil, err
	}

	buckets := make([]Bucket[T], len(starts))
	for i, s := range starts {
		next := end
		if i+1 < len(starts) {
			next = starts[i+1]
		}
		buckets[i] = Bucket[T]{Start: s, End: next, Label: timebucket.FormatLabel(s, g)}
	}

	for _, r := range records {
		t := at(r)
		if t.Before(start) || !t.Before(end) {
			continue
		}
		idx := sort.Search(len(starts), func(i int) bool { return starts[i].After(t) }) - 1
		if idx < 0 {
			return nil, fmt.Errorf("record at %s precedes first bucket %s", t, starts[0])
		}
		buckets[idx].Records = append(buckets[idx].Records, r)
	}

	rows := make([]R, len(buckets))
	for i, b := range buckets {
		rows[i] = reduce(b)
	}
	return rows, nil
}

// CountRow is the simplest time-series row.
type CountRow struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountSeries counts records per bucket.
func CountSeries[T any](records []T, at func(T) time.Time, start, end time.Time, g timebucket.Granularity) ([]CountRow, error) {
	return BucketedTimeSeries(records, at, start, end, g, func(b Bucket[T]) CountRow {
		return CountRow{Label: b.Label, Count: len(b.Records)}
	})
}

// HourKey formats an hour of the day as "HH:00".
func HourKey(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// HourlyDistribution counts records by hour of day in loc. All 24 keys
// "00:00" through "23:00" are present, in order.
func HourlyDistribution[T any](records []T, at func(T) time.Time, loc *time.Location) *Groups[int] {
	if loc == nil {
		loc = time.UTC
	}
	g := newGroups[int]()
	for h := 0; h < 24; h++ {
		g.keys = append(g.keys, HourKey(h))
		g.vals[HourKey(h)] = 0
	}
	for _, r := range records {
		g.vals[HourKey(at(r).In(loc).Hour())]++
	}
	return g
}

// MostRecent returns up to n records ordered newest first. Records with the
// same timestamp keep their input order.
func MostRecent[T any](records []T, at func(T) time.Time, n int) []T {
	out := make([]T, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return at(out[i]).After(at(out[j]))
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
