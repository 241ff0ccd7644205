package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"tally/internal/events"
)

type Overview struct {
	TotalViews     int64  `json:"total_views"`
	UniqueVisitors int64  `json:"unique_visitors"`
	ActiveNow      int64  `json:"active_now"`
	Bots           *int64 `json:"bots,omitempty"`
}

// GetOverview counts human page views and visitors in range plus visitors
// active in the last five minutes. Bot visitors active in that window are
// reported only when countBots is set, since session identities give bots a
// fresh key on every request.
func GetOverview(db *gorm.DB, params QueryParams, countBots bool) (Overview, error) {
	var overview Overview
	since := params.since()
	cutoff := activeCutoff(params.now())

	var views struct {
		Total    int64
		Visitors int64
	}
	err := db.Raw(`
		SELECT COUNT(*) AS total, COUNT(DISTINCT visitor_key) AS visitors
		FROM analytics_events
		WHERE event_type = ? AND created_at > ? AND `+humanOnly,
		events.EventTypePageView, since).Scan(&views).Error
	if err != nil {
		return overview, fmt.Errorf("failed to count page views: %w", err)
	}
	overview.TotalViews = views.Total
	overview.UniqueVisitors = views.Visitors

	if err := db.Raw(`
		SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
		WHERE created_at > ? AND `+humanOnly, cutoff).Scan(&overview.ActiveNow).Error; err != nil {
		return overview, fmt.Errorf("failed to count active visitors: %w", err)
	}

	if countBots {
		var bots int64
		if err := db.Raw(`
			SELECT COUNT(DISTINCT visitor_key) FROM analytics_events
			WHERE created_at > ? AND is_bot = 1`, cutoff).Scan(&bots).Error; err != nil {
			return overview, fmt.Errorf("failed to count active bots: %w", err)
		}
		overview.Bots = &bots
	}

	return overview, nil
}
