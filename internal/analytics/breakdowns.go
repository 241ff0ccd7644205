package analytics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var ErrUnknownDimension = errors.New("unknown breakdown dimension")

// Dimension is a classification column visitors can be grouped by.
type Dimension string

const (
	DimensionBrowsers  Dimension = "browsers"
	DimensionDevices   Dimension = "devices"
	DimensionCountries Dimension = "countries"
	DimensionOS        Dimension = "os"
)

var dimensionColumns = map[Dimension]string{
	DimensionBrowsers:  "browser",
	DimensionDevices:   "device_type",
	DimensionCountries: "country",
	DimensionOS:        "os",
}

// BreakdownItem is one row of a dimension breakdown. Name is the stored
// value; Label is the display form and Flag is set for countries.
type BreakdownItem struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Flag  string `json:"flag,omitempty"`
	Count int64  `json:"count"`
}

// GetBreakdown counts distinct human visitors per value of dim. Device types
// are few and never capped.
func GetBreakdown(db *gorm.DB, dim Dimension, params QueryParams) ([]BreakdownItem, error) {
	column, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
	}

	items, err := countByColumn(db, column, params.since(), breakdownLimit(dim, params.limit()))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s breakdown: %w", dim, err)
	}
	return decorate(dim, items), nil
}

func breakdownLimit(dim Dimension, limit int) int {
	if dim == DimensionDevices {
		return -1
	}
	return limit
}

// countByColumn is shared with the live widgets. A negative limit means no
// cap. column must come from dimensionColumns.
func countByColumn(db *gorm.DB, column string, since int64, limit int) ([]BreakdownItem, error) {
	items := []BreakdownItem{}
	err := db.Raw(`
		SELECT `+column+` AS name, COUNT(DISTINCT visitor_key) AS count
		FROM analytics_events
		WHERE created_at > ? AND `+humanOnly+` AND `+column+` IS NOT NULL AND `+column+` != ''
		GROUP BY `+column+`
		ORDER BY count DESC, name ASC
		LIMIT ?`, since, limit).Scan(&items).Error
	return items, err
}

var countryIndex = gountries.New()

func decorate(dim Dimension, items []BreakdownItem) []BreakdownItem {
	caser := cases.Title(language.AmericanEnglish)
	for i := range items {
		switch dim {
		case DimensionCountries:
			items[i].Label = CountryName(items[i].Name)
			items[i].Flag = CountryFlag(items[i].Name)
		case DimensionDevices:
			items[i].Label = caser.String(items[i].Name)
		default:
			items[i].Label = items[i].Name
		}
	}
	return items
}

// CountryName returns the common English name for an ISO alpha-2 code, or the
// upper-cased code when it is unknown.
func CountryName(code string) string {
	code = strings.ToUpper(code)
	country, err := countryIndex.FindCountryByAlpha(code)
	if err != nil {
		return code
	}
	return country.Name.Common
}

// CountryFlag renders an ISO alpha-2 code as regional indicator symbols.
// Anything else gets the globe.
func CountryFlag(code string) string {
	code = strings.ToUpper(code)
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return "🌍"
	}
	const offset = 0x1F1E6 - 'A'
	return string([]rune{rune(code[0]) + offset, rune(code[1]) + offset})
}
