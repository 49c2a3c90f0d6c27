// Package timebucket resolves reporting date ranges and splits them into
// contiguous calendar buckets.
package timebucket

import (
	"errors"
	"fmt"
	"time"
)

// Granularity is the width of one bucket.
type Granularity string

const (
	Hour    Granularity = "hour"
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

// Custom is the named range whose bounds are supplied by the caller.
const Custom = "custom"

// MaxBuckets bounds GenerateBuckets: ten years of daily buckets.
const MaxBuckets = 3660

var (
	ErrUnknownGranularity = errors.New("unknown granularity")
	ErrUnknownRange       = errors.New("unknown date range")
	ErrInvalidRange       = errors.New("start must not be after end")
	ErrMissingBounds      = errors.New("custom range requires start and end")
	ErrTooManyBuckets     = errors.New("range produces too many buckets")
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Hour, Day, Week, Month, Quarter, Year:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Previous returns the range of equal length immediately before r.
func (r Range) Previous() Range {
	return Range{Start: r.Start.Add(-r.Duration()), End: r.Start}
}

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ResolveDateRange maps a named range to concrete bounds. Named ranges are
// rolling windows ending at now. For Custom both start and end are required
// and start must not be after end.
func ResolveDateRange(named string, now time.Time, start, end *time.Time) (Range, error) {
	switch named {
	case Custom:
		if start == nil || end == nil {
			return Range{}, ErrMissingBounds
		}
		return NewRange(*start, *end)
	case string(Hour):
		return Range{Start: now.Add(-time.Hour), End: now}, nil
	case string(Day):
		return Range{Start: now.AddDate(0, 0, -1), End: now}, nil
	case string(Week):
		return Range{Start: now.AddDate(0, 0, -7), End: now}, nil
	case string(Month):
		return Range{Start: addMonths(now, -1), End: now}, nil
	case string(Quarter):
		return Range{Start: addMonths(now, -3), End: now}, nil
	case string(Year):
		return Range{Start: addMonths(now, -12), End: now}, nil
	}
	return Range{}, fmt.Errorf("%w: %q", ErrUnknownRange, named)
}

// NewRange validates explicit bounds.
func NewRange(start, end time.Time) (Range, error) {
	if start.After(end) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: start, End: end}, nil
}

// NextBoundary returns the start of the bucket following the one that
// starts at t.
func NextBoundary(t time.Time, g Granularity) (time.Time, error) {
	return Boundary(t, g, 1)
}

// Boundary returns the start of the k-th bucket counted from anchor. Calendar
// units are added to anchor directly, so a day clamped in a short month is
// restored in the following longer ones.
func Boundary(anchor time.Time, g Granularity, k int) (time.Time, error) {
	switch g {
	case Hour:
		return anchor.Add(time.Duration(k) * time.Hour), nil
	case Day:
		return anchor.AddDate(0, 0, k), nil
	case Week:
		return anchor.AddDate(0, 0, 7*k), nil
	case Month:
		return addMonths(anchor, k), nil
	case Quarter:
		return addMonths(anchor, 3*k), nil
	case Year:
		return addMonths(anchor, 12*k), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, g)
}

// GenerateBuckets returns the ordered bucket starts covering [start, end).
// Bucket k starts k units after start; an empty range yields no buckets.
func GenerateBuckets(start, end time.Time, g Granularity) ([]time.Time, error) {
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	if _, err := Boundary(start, g, 0); err != nil {
		return nil, err
	}

	var buckets []time.Time
	for t := start; t.Before(end); t, _ = Boundary(start, g, len(buckets)) {
		if len(buckets) == MaxBuckets {
			return nil, fmt.Errorf("%w: more than %d %s buckets", ErrTooManyBuckets, MaxBuckets, g)
		}
		buckets = append(buckets, t)
	}
	return buckets, nil
}

// FormatLabel renders a bucket start for display.
func FormatLabel(t time.Time, g Granularity) string {
	switch g {
	case Hour:
		return t.Format("2006-01-02 15:00")
	case Month:
		return t.Format("2006-01")
	case Quarter:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case Year:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// addMonths adds n calendar months, clamping the day to the last day of the
// target month instead of overflowing into the next one.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
