package analytics

import (
	"context"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"gorm.io/gorm"

	"tally/internal/metrics"
	"tally/internal/pkg/referrers"
)

const liveBreakdownLimit = 5

type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

type ActiveVisitors struct {
	Pages     []PathCount     `json:"pages"`
	Total     int64           `json:"total"`
	Bots      int64           `json:"bots"`
	Countries []BreakdownItem `json:"countries"`
	Browsers  []BreakdownItem `json:"browsers"`
	Devices   []BreakdownItem `json:"devices"`
	Referrers []BreakdownItem `json:"referrers"`
}

type ActiveOnPath struct {
	Count     int64           `json:"count"`
	Bots      int64           `json:"bots"`
	Countries []BreakdownItem `json:"countries"`
}

func emptyActiveVisitors() ActiveVisitors {
	return ActiveVisitors{
		Pages:     []PathCount{},
		Countries: []BreakdownItem{},
		Browsers:  []BreakdownItem{},
		Devices:   []BreakdownItem{},
		Referrers: []BreakdownItem{},
	}
}

// LiveQuerier serves the real-time widgets. Failures never reach the caller:
// they are logged, counted and answered with zero values. Repeated failures
// open a circuit breaker so a struggling database is not hammered by
// polling widgets.
type LiveQuerier struct {
	db      *gorm.DB
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[any]
	now     func() time.Time
}

func NewLiveQuerier(db *gorm.DB, logger *slog.Logger) *LiveQuerier {
	metrics.LiveBreakerState.Set(0)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "live-widgets",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.LiveBreakerState.Set(float64(to))
			logger.Warn("Live query circuit breaker changed state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &LiveQuerier{db: db, logger: logger, breaker: breaker, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (q *LiveQuerier) WithClock(now func() time.Time) *LiveQuerier {
	q.now = now
	return q
}

// ActiveVisitors breaks down visitors seen in the last five minutes. Devices
// are uncapped; every other list holds at most five rows.
func (q *LiveQuerier) ActiveVisitors(ctx context.Context, limit int) ActiveVisitors {
	limit = ClampLimit(limit, DefaultLimit)
	result, err := q.breaker.Execute(func() (any, error) {
		return q.activeVisitors(q.db.WithContext(ctx), activeCutoff(q.now()), limit)
	})
	if err != nil {
		q.fallback("active_visitors", err)
		return emptyActiveVisitors()
	}
	return result.(ActiveVisitors)
}

// ActiveOnPath counts visitors on one path in the last five minutes.
func (q *LiveQuerier) ActiveOnPath(ctx context.Context, path string) ActiveOnPath {
	result, err := q.breaker.Execute(func() (any, error) {
		return q.activeOnPath(q.db.WithContext(ctx), activeCutoff(q.now()), path)
	})
	if err != nil {
		q.fallback("active_on_path", err)
		return ActiveOnPath{Countries: []BreakdownItem{}}
	}
	return result.(ActiveOnPath)
}

func (q *LiveQuerier) fallback(query string, err error) {
	metrics.LiveQueryFallbacksTotal.WithLabelValues(query).Inc()
	q.logger.Error("Live query failed, returning empty result",
		slog.String("query", query),
		slog.Any("error", err))
}

func (q *LiveQuerier) activeVisitors(db *gorm.DB, cutoff int64, limit int) (ActiveVisitors, error) {
	result := emptyActiveVisitors()

	err := db.Raw(`
		SELECT path, COUNT(DISTINCT visitor_key) AS count
		FROM analytics_events
		WHERE created_at > ? AND `+humanOnly+`
		GROUP BY path
		ORDER BY count DESC, path ASC
		LIMIT ?`, cutoff, limit).Scan(&result.Pages).Error
	if err != nil {
		return result, err
	}

	if err := db.Raw(`
		SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
		WHERE created_at > ? AND `+humanOnly, cutoff).Scan(&result.Total).Error; err != nil {
		return result, err
	}

	if err := db.Raw(`
		SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
		WHERE created_at > ? AND is_bot = 1`, cutoff).Scan(&result.Bots).Error; err != nil {
		return result, err
	}

	if result.Countries, err = countByColumn(db, "country", cutoff, liveBreakdownLimit); err != nil {
		return result, err
	}
	if result.Browsers, err = countByColumn(db, "browser", cutoff, liveBreakdownLimit); err != nil {
		return result, err
	}
	if result.Devices, err = countByColumn(db, "device_type", cutoff, -1); err != nil {
		return result, err
	}
	result.Countries = decorate(DimensionCountries, result.Countries)
	result.Browsers = decorate(DimensionBrowsers, result.Browsers)
	result.Devices = decorate(DimensionDevices, result.Devices)

	err = db.Raw(`
		SELECT `+referrerSourceExpr+` AS name, COUNT(DISTINCT visitor_key) AS count
		FROM analytics_events
		WHERE created_at > ? AND `+humanOnly+`
		GROUP BY name
		ORDER BY count DESC, name ASC
		LIMIT ?`, cutoff, liveBreakdownLimit).Scan(&result.Referrers).Error
	if err != nil {
		return result, err
	}
	for i := range result.Referrers {
		result.Referrers[i].Label = referrers.FriendlyName(result.Referrers[i].Name)
	}

	return result, nil
}

func (q *LiveQuerier) activeOnPath(db *gorm.DB, cutoff int64, path string) (ActiveOnPath, error) {
	result := ActiveOnPath{Countries: []BreakdownItem{}}

	if err := db.Raw(`
		SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
		WHERE path = ? AND created_at > ? AND `+humanOnly, path, cutoff).Scan(&result.Count).Error; err != nil {
		return result, err
	}

	if err := db.Raw(`
		SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
		WHERE path = ? AND created_at > ? AND is_bot = 1`, path, cutoff).Scan(&result.Bots).Error; err != nil {
		return result, err
	}

	err := db.Raw(`
		SELECT country AS name, COUNT(DISTINCT visitor_key) AS count
		FROM analytics_events
		WHERE path = ? AND created_at > ? AND `+humanOnly+` AND country IS NOT NULL AND country != ''
		GROUP BY country
		ORDER BY count DESC, name ASC
		LIMIT ?`, path, cutoff, liveBreakdownLimit).Scan(&result.Countries).Error
	if err != nil {
		return result, err
	}
	result.Countries = decorate(DimensionCountries, result.Countries)

	return result, nil
}
