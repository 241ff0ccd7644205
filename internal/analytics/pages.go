package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"tally/internal/events"
)

type PageStat struct {
	Path           string `json:"path"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

type CustomEventStat struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

type TimelinePoint struct {
	Period    string `json:"period"`
	Visitors  int64  `json:"visitors"`
	PageViews int64  `json:"page_views"`
}

// GetTopPages ranks paths by human page views.
func GetTopPages(db *gorm.DB, params QueryParams) ([]PageStat, error) {
	pages := []PageStat{}
	err := db.Raw(`
		SELECT path, COUNT(*) AS views, COUNT(DISTINCT visitor_key) AS unique_visitors
		FROM analytics_events
		WHERE event_type = ? AND created_at > ? AND `+humanOnly+`
		GROUP BY path
		ORDER BY views DESC, path ASC
		LIMIT ?`,
		events.EventTypePageView, params.since(), params.limit()).Scan(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	return pages, nil
}

func GetCustomEvents(db *gorm.DB, params QueryParams) ([]CustomEventStat, error) {
	stats := []CustomEventStat{}
	err := db.Raw(`
		SELECT event_name, COUNT(*) AS count
		FROM analytics_events
		WHERE event_type = ? AND created_at > ? AND `+humanOnly+`
		GROUP BY event_name
		ORDER BY count DESC, event_name ASC
		LIMIT ?`,
		events.EventTypeCustom, params.since(), params.limit()).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query custom events: %w", err)
	}
	return stats, nil
}

// GetVisitorTimeline buckets human page views by hour for the today range
// and by day otherwise, oldest bucket first.
func GetVisitorTimeline(db *gorm.DB, params QueryParams) ([]TimelinePoint, error) {
	points := []TimelinePoint{}
	bucket := params.timeRange().BucketExpr("created_at")
	err := db.Raw(`
		SELECT `+bucket+` AS period,
			COUNT(DISTINCT visitor_key) AS visitors,
			COUNT(*) AS page_views
		FROM analytics_events
		WHERE event_type = ? AND created_at > ? AND `+humanOnly+`
		GROUP BY period
		ORDER BY period ASC`,
		events.EventTypePageView, params.since()).Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query visitor timeline: %w", err)
	}
	return points, nil
}
