package period

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects the bucket width.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity maps a token to a Granularity; unknown tokens default to Day.
func ParseGranularity(token string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(token))) {
	case Week:
		return Week
	case Month:
		return Month
	default:
		return Day
	}
}

// BucketKey returns the bucket key of ts after converting it into loc.
func BucketKey(ts time.Time, g Granularity, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	switch g {
	case Week:
		year, week := local.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Month:
		return local.Format("2006-01")
	default:
		return local.Format(DateLayout)
	}
}

// BucketFunc returns a pure bucket-key function bound to a granularity and location.
func BucketFunc(g Granularity, loc *time.Location) func(time.Time) string {
	return func(ts time.Time) string {
		return BucketKey(ts, g, loc)
	}
}

// LocalBucketKey buckets a zone-less wall-clock timestamp by its calendar fields.
func LocalBucketKey(wall time.Time, g Granularity) string {
	y, m, d := wall.Date()
	return BucketKey(time.Date(y, m, d, 12, 0, 0, 0, time.UTC), g, time.UTC)
}

// BucketStart returns the local midnight at which the bucket containing day begins.
func BucketStart(day time.Time, g Granularity) time.Time {
	y, m, d := day.Date()
	loc := day.Location()
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// BucketLastDay returns the local midnight of the final day of the bucket containing day.
func BucketLastDay(day time.Time, g Granularity) time.Time {
	start := BucketStart(day, g)
	y, m, d := start.Date()
	switch g {
	case Week:
		return time.Date(y, m, d+6, 0, 0, 0, 0, start.Location())
	case Month:
		return time.Date(y, m+1, 0, 0, 0, 0, 0, start.Location())
	default:
		return start
	}
}

func nextBucket(start time.Time, g Granularity) time.Time {
	y, m, d := start.Date()
	switch g {
	case Week:
		return time.Date(y, m, d+7, 0, 0, 0, 0, start.Location())
	case Month:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, start.Location())
	default:
		return time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
	}
}

// Enumerate lists, in ascending order, every bucket key touched by the window.
func Enumerate(w Window, g Granularity) []string {
	var keys []string
	for cursor := BucketStart(w.DateFrom, g); !cursor.After(w.DateTo); cursor = nextBucket(cursor, g) {
		keys = append(keys, BucketKey(cursor, g, w.Location))
	}
	return keys
}

// CompleteBuckets lists the bucket keys lying entirely inside the window: the bucket starts on
// or after the first day and its final local day is on or before the last day.
func CompleteBuckets(w Window, g Granularity) []string {
	var keys []string
	for cursor := BucketStart(w.DateFrom, g); !cursor.After(w.DateTo); cursor = nextBucket(cursor, g) {
		if cursor.Before(w.DateFrom) {
			continue
		}
		if BucketLastDay(cursor, g).After(w.DateTo) {
			break
		}
		keys = append(keys, BucketKey(cursor, g, w.Location))
	}
	return keys
}
