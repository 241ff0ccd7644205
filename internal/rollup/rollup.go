// Package rollup compacts the event log into monthly, yearly and all-time
// summary tables. Every run recomputes the summaries from the full log and
// upserts them, so running it twice without new events changes nothing.
package rollup

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"tally/internal/metrics"
)

// ErrUnauthorized is returned by Authorize for a missing or wrong token.
var ErrUnauthorized = errors.New("rollup token mismatch")

// Triggers recorded in the run ledger.
const (
	TriggerHTTP     = "http"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

const humanPageViews = `event_type = 'page_view' AND (is_bot = 0 OR is_bot IS NULL)`

const monthlyRollupSQL = `
INSERT INTO analytics_monthly (year, month, path, page_views, unique_visitors)
SELECT
	CAST(strftime('%Y', created_at / 1000, 'unixepoch') AS INTEGER) AS year,
	CAST(strftime('%m', created_at / 1000, 'unixepoch') AS INTEGER) AS month,
	path,
	COUNT(*),
	COUNT(DISTINCT visitor_key)
FROM analytics_events
WHERE ` + humanPageViews + `
GROUP BY year, month, path
ON CONFLICT(year, month, path) DO UPDATE SET
	page_views = excluded.page_views,
	unique_visitors = excluded.unique_visitors`

const yearlyRollupSQL = `
INSERT INTO analytics_yearly (year, path, page_views, unique_visitors)
SELECT
	CAST(strftime('%Y', created_at / 1000, 'unixepoch') AS INTEGER) AS year,
	path,
	COUNT(*),
	COUNT(DISTINCT visitor_key)
FROM analytics_events
WHERE ` + humanPageViews + `
GROUP BY year, path
ON CONFLICT(year, path) DO UPDATE SET
	page_views = excluded.page_views,
	unique_visitors = excluded.unique_visitors`

const allTimeRollupSQL = `
INSERT INTO analytics_all_time (path, page_views, unique_visitors, first_view, last_view)
SELECT
	path,
	COUNT(*),
	COUNT(DISTINCT visitor_key),
	MIN(created_at),
	MAX(created_at)
FROM analytics_events
WHERE ` + humanPageViews + `
GROUP BY path
ON CONFLICT(path) DO UPDATE SET
	page_views = excluded.page_views,
	unique_visitors = excluded.unique_visitors,
	first_view = excluded.first_view,
	last_view = excluded.last_view`

type Options struct {
	Trigger string
}

// Result carries the number of summary rows written per granularity.
type Result struct {
	Monthly     int64         `json:"monthly"`
	Yearly      int64         `json:"yearly"`
	AllTime     int64         `json:"all_time"`
	HighWaterID uint          `json:"high_water_id"`
	Duration    time.Duration `json:"-"`
}

type Job struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	token     string
	now       func() time.Time
	mu        sync.Mutex
}

// NewJob builds a rollup job. An empty token disables authorization.
func NewJob(dbManager cartridge.DBManager, logger *slog.Logger, token string) *Job {
	return &Job{dbManager: dbManager, logger: logger, token: token, now: time.Now}
}

// Authorize checks a caller-supplied token in constant time.
func (j *Job) Authorize(token string) error {
	if j.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(j.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Run recomputes all three summary tables in one write transaction. A
// failure rolls everything back and leaves the previous summaries intact.
func (j *Job) Run(ctx context.Context, opts Options) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerCLI
	}

	started := j.now()
	var result Result

	db := j.dbManager.GetConnection().WithContext(ctx)
	err := sqlite.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT COALESCE(MAX(id), 0) FROM analytics_events").Scan(&result.HighWaterID).Error; err != nil {
			return fmt.Errorf("error reading high-water mark: %w", err)
		}

		steps := []struct {
			name  string
			query string
			rows  *int64
		}{
			{"monthly", monthlyRollupSQL, &result.Monthly},
			{"yearly", yearlyRollupSQL, &result.Yearly},
			{"all_time", allTimeRollupSQL, &result.AllTime},
		}
		for _, step := range steps {
			res := tx.Exec(step.query)
			if res.Error != nil {
				return fmt.Errorf("error rolling up %s summaries: %w", step.name, res.Error)
			}
			*step.rows = res.RowsAffected
		}

		run := Run{
			Trigger:     trigger,
			StartedAt:   started.UnixMilli(),
			FinishedAt:  j.now().UnixMilli(),
			HighWaterID: result.HighWaterID,
			MonthlyRows: result.Monthly,
			YearlyRows:  result.Yearly,
			AllTimeRows: result.AllTime,
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("error recording rollup run: %w", err)
		}
		return nil
	})

	result.Duration = j.now().Sub(started)
	metrics.RecordRollup(trigger, err, result.Duration, result.Monthly, result.Yearly, result.AllTime)

	if err != nil {
		j.logger.Error("Rollup failed", slog.String("trigger", trigger), slog.Any("error", err))
		return Result{}, err
	}

	j.logger.Info("Rollup completed",
		slog.String("trigger", trigger),
		slog.Int64("monthly", result.Monthly),
		slog.Int64("yearly", result.Yearly),
		slog.Int64("all_time", result.AllTime),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// LastRun returns the most recent ledger entry, or nil before the first run.
func (j *Job) LastRun(ctx context.Context) (*Run, error) {
	var runs []Run
	err := j.dbManager.GetConnection().WithContext(ctx).
		Order("id DESC").Limit(1).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching last rollup run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
