package rollup

// MonthlySummary holds human page views per UTC calendar month and path.
type MonthlySummary struct {
	Year           int    `gorm:"primaryKey;autoIncrement:false"`
	Month          int    `gorm:"primaryKey;autoIncrement:false"`
	Path           string `gorm:"primaryKey"`
	PageViews      int64  `gorm:"not null;default:0"`
	UniqueVisitors int64  `gorm:"not null;default:0"`
}

func (MonthlySummary) TableName() string { return "analytics_monthly" }

type YearlySummary struct {
	Year           int    `gorm:"primaryKey;autoIncrement:false"`
	Path           string `gorm:"primaryKey"`
	PageViews      int64  `gorm:"not null;default:0"`
	UniqueVisitors int64  `gorm:"not null;default:0"`
}

func (YearlySummary) TableName() string { return "analytics_yearly" }

// AllTimeSummary also records the first and last view in epoch milliseconds.
type AllTimeSummary struct {
	Path           string `gorm:"primaryKey"`
	PageViews      int64  `gorm:"not null;default:0"`
	UniqueVisitors int64  `gorm:"not null;default:0"`
	FirstView      int64
	LastView       int64
}

func (AllTimeSummary) TableName() string { return "analytics_all_time" }

// Run is the ledger entry written by every successful rollup.
type Run struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Trigger     string `gorm:"size:16;not null" json:"trigger"`
	StartedAt   int64  `gorm:"not null" json:"started_at"`
	FinishedAt  int64  `gorm:"not null;index" json:"finished_at"`
	HighWaterID uint   `gorm:"not null" json:"high_water_id"`
	MonthlyRows int64  `json:"monthly_rows"`
	YearlyRows  int64  `json:"yearly_rows"`
	AllTimeRows int64  `json:"all_time_rows"`
}

func (Run) TableName() string { return "rollup_runs" }
