// Package analytics answers dashboard questions with read-only queries over
// the event log.
package analytics

import (
	"time"

	"tally/internal/timeframe"
)

const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRecentLimit = 20
	ActiveWindow       = 5 * time.Minute
)

// humanOnly matches rows not flagged as bots. Rows written before
// classification existed have a NULL flag and count as human.
const humanOnly = "(is_bot = 0 OR is_bot IS NULL)"

// QueryParams scopes a dashboard query. Zero values mean "last 7 days, 10
// rows, now".
type QueryParams struct {
	Range timeframe.Range
	Limit int
	Now   time.Time
}

func (p QueryParams) now() time.Time {
	if p.Now.IsZero() {
		return time.Now()
	}
	return p.Now
}

func (p QueryParams) timeRange() timeframe.Range {
	if p.Range == "" {
		return timeframe.DefaultRange
	}
	return p.Range
}

func (p QueryParams) since() int64 {
	return p.timeRange().Since(p.now())
}

func (p QueryParams) limit() int {
	return ClampLimit(p.Limit, DefaultLimit)
}

// ClampLimit applies def to non-positive values and caps at MaxLimit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func activeCutoff(now time.Time) int64 {
	return now.Add(-ActiveWindow).UnixMilli()
}
