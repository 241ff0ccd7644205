package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"tally/internal/visitors"
)

// RecentEvent is a raw log row as shown in the live feed. Bots are included
// and flagged.
type RecentEvent struct {
	Path       string  `json:"path"`
	EventType  string  `json:"event_type"`
	EventName  *string `json:"event_name"`
	Browser    *string `json:"browser"`
	OS         *string `json:"os"`
	DeviceType *string `json:"device_type"`
	Country    *string `json:"country"`
	IsBot      bool    `json:"is_bot"`
	CreatedAt  int64   `json:"created_at"`
	VisitorKey string  `json:"-"`
	Visitor    string  `json:"visitor"`
}

// GetRecentEvents returns the newest events regardless of range.
func GetRecentEvents(db *gorm.DB, limit int) ([]RecentEvent, error) {
	rows := []RecentEvent{}
	err := db.Raw(`
		SELECT path, event_type, event_name, browser, os, device_type, country,
			COALESCE(is_bot, 0) AS is_bot, created_at, visitor_key
		FROM analytics_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, ClampLimit(limit, DefaultRecentLimit)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}

	for i := range rows {
		rows[i].Visitor = visitors.Alias(rows[i].VisitorKey)
	}
	return rows, nil
}
