// Package timeframe maps dashboard range labels to rolling windows and
// SQLite bucket formats.
package timeframe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRange = errors.New("range must be one of today, 7d, 30d, all")

// Range is a rolling window ending now.
type Range string

const (
	RangeToday      Range = "today"
	RangeLast7Days  Range = "7d"
	RangeLast30Days Range = "30d"
	RangeAllTime    Range = "all"
)

const DefaultRange = RangeLast7Days

type BucketSize string

const (
	BucketSizeHour BucketSize = "hour"
	BucketSizeDay  BucketSize = "day"
)

var bucketFormats = map[BucketSize]string{
	BucketSizeHour: "%Y-%m-%d %H:00",
	BucketSizeDay:  "%Y-%m-%d",
}

// ParseRange accepts a range label. An empty value yields DefaultRange.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return DefaultRange, nil
	case RangeToday, RangeLast7Days, RangeLast30Days, RangeAllTime:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
}

func (r Range) Duration() time.Duration {
	switch r {
	case RangeToday:
		return 24 * time.Hour
	case RangeLast7Days:
		return 7 * 24 * time.Hour
	case RangeLast30Days:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Since returns the exclusive lower bound in epoch milliseconds. The all-time
// range returns 0, which every stored event is after.
func (r Range) Since(now time.Time) int64 {
	d := r.Duration()
	if d == 0 {
		return 0
	}
	return now.Add(-d).UnixMilli()
}

func (r Range) BucketSize() BucketSize {
	if r == RangeToday {
		return BucketSizeHour
	}
	return BucketSizeDay
}

// DBFormat is the strftime pattern used to group created_at into buckets.
func (r Range) DBFormat() string {
	return bucketFormats[r.BucketSize()]
}

// BucketExpr returns a SQLite expression bucketing an epoch-ms column in UTC.
func (r Range) BucketExpr(column string) string {
	return fmt.Sprintf("strftime('%s', %s / 1000, 'unixepoch')", r.DBFormat(), column)
}
