package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"tally/internal/events"
	"tally/internal/pkg/referrers"
)

// referrerHostExpr strips the scheme and path from the raw referrer column.
// It backs rows that predate the stored referrer_domain column.
const referrerHostExpr = `SUBSTR(referrer, INSTR(referrer, '://') + 3,
	CASE
		WHEN INSTR(SUBSTR(referrer, INSTR(referrer, '://') + 3), '/') > 0
		THEN INSTR(SUBSTR(referrer, INSTR(referrer, '://') + 3), '/') - 1
		ELSE LENGTH(referrer)
	END)`

// referrerSourceExpr yields the referrer domain or '(direct)'.
const referrerSourceExpr = `CASE
	WHEN referrer_domain IS NOT NULL AND referrer_domain != '' THEN referrer_domain
	WHEN referrer IS NULL OR referrer = '' THEN '` + referrers.Direct + `'
	ELSE ` + referrerHostExpr + `
END`

type ReferrerStat struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Visits int64  `json:"visits"`
}

// GetReferrers groups human page views by referring domain.
func GetReferrers(db *gorm.DB, params QueryParams) ([]ReferrerStat, error) {
	stats := []ReferrerStat{}
	err := db.Raw(`
		SELECT `+referrerSourceExpr+` AS source, COUNT(*) AS visits
		FROM analytics_events
		WHERE event_type = ? AND created_at > ? AND `+humanOnly+`
		GROUP BY source
		ORDER BY visits DESC, source ASC
		LIMIT ?`,
		events.EventTypePageView, params.since(), params.limit()).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query referrers: %w", err)
	}

	for i := range stats {
		stats[i].Name = referrers.FriendlyName(stats[i].Source)
	}
	return stats, nil
}
