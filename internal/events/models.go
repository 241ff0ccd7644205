package events

// EventType distinguishes automatic page views from named custom events.
type EventType string

const (
	EventTypePageView EventType = "page_view"
	EventTypeCustom   EventType = "custom"
)

func (t EventType) Valid() bool {
	return t == EventTypePageView || t == EventTypeCustom
}

// Event is one row of the append-only event log. Nullable columns are
// pointers; created_at is epoch milliseconds from the server clock.
type Event struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	VisitorKey     string    `gorm:"size:64;not null;index"`
	EventType      EventType `gorm:"size:16;not null;index"`
	EventName      *string   `gorm:"size:100"`
	Path           string    `gorm:"not null;index"`
	Referrer       *string
	ReferrerDomain *string
	UserAgent      *string
	IP             *string `gorm:"column:ip"`
	Country        *string `gorm:"size:2"`
	Browser        *string
	OS             *string `gorm:"column:os"`
	DeviceType     *string `gorm:"size:16"`
	IsBot          *bool   `gorm:"index"`
	Props          *string `gorm:"type:text"`
	CreatedAt      int64   `gorm:"not null;index;autoCreateTime:false"`
}

func (Event) TableName() string {
	return "analytics_events"
}

// nullable maps "" to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
