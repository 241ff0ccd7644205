package events_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tally/internal/events"
	"tally/internal/testsupport"
	"tally/internal/visitors"
)

const chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type staticExclusions struct {
	ips []string
	err error
}

func (s staticExclusions) IsIPExcluded(ip string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, excluded := range s.ips {
		if excluded == ip {
			return true, nil
		}
	}
	return false, nil
}

type staticCountries map[string]string

func (s staticCountries) Country(ip string) string { return s[ip] }

func newRecorder(t *testing.T, opts events.RecorderOptions) (*events.Recorder, *gorm.DB) {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanTables(db, "analytics_events")

	opts.DBManager = dbManager
	opts.Logger = logger
	if opts.Resolver == nil {
		opts.Resolver = visitors.NewHashResolver("test-salt-0123456789")
	}
	return events.NewRecorder(opts), db
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&events.Event{}).Count(&n).Error)
	return n
}

func TestRecordPageView(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	recorder, db := newRecorder(t, events.RecorderOptions{Now: func() time.Time { return fixed }})

	receipt, err := recorder.Record(context.Background(), events.RecordInput{
		Type:     events.EventTypePageView,
		Name:     "ignored for page views",
		Path:     "/blog/post?utm_source=x#top",
		Referrer: "https://www.example.com/links?ref=1",
		Request: events.RequestMetadata{
			IP:        "203.0.113.42",
			UserAgent: chromeMac,
			Country:   "gb",
		},
	})
	require.NoError(t, err)
	require.NotZero(t, receipt.EventID)
	assert.False(t, receipt.Skipped)
	assert.Len(t, receipt.Identity.VisitorKey, visitors.HashKeyLength)

	var stored events.Event
	require.NoError(t, db.First(&stored, receipt.EventID).Error)
	assert.Equal(t, events.EventTypePageView, stored.EventType)
	assert.Nil(t, stored.EventName)
	assert.Equal(t, "/blog/post", stored.Path)
	assert.Equal(t, "203.0.113.0", *stored.IP)
	assert.Equal(t, "GB", *stored.Country)
	assert.Equal(t, "Chrome", *stored.Browser)
	assert.Equal(t, "macOS", *stored.OS)
	assert.Equal(t, "desktop", *stored.DeviceType)
	require.NotNil(t, stored.IsBot)
	assert.False(t, *stored.IsBot)
	assert.Equal(t, "www.example.com", *stored.ReferrerDomain)
	assert.Equal(t, fixed.UnixMilli(), stored.CreatedAt)
	assert.Equal(t, receipt.Identity.VisitorKey, stored.VisitorKey)
	assert.Nil(t, stored.Props)
}

func TestRecordCustomEvent(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{})

	receipt, err := recorder.Record(context.Background(), events.RecordInput{
		Type:  events.EventTypeCustom,
		Name:  "  signup  ",
		Path:  "/pricing",
		Props: map[string]any{"plan": "pro", "seats": 3},
	})
	require.NoError(t, err)

	var stored events.Event
	require.NoError(t, db.First(&stored, receipt.EventID).Error)
	require.NotNil(t, stored.EventName)
	assert.Equal(t, "signup", *stored.EventName)
	require.NotNil(t, stored.Props)
	assert.JSONEq(t, `{"plan":"pro","seats":3}`, *stored.Props)
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name  string
		input events.RecordInput
		want  error
	}{
		{"unknown type", events.RecordInput{Type: "click", Path: "/"}, events.ErrInvalidEventType},
		{"custom without name", events.RecordInput{Type: events.EventTypeCustom, Name: "   ", Path: "/"}, events.ErrEventNameRequired},
		{"custom name too long", events.RecordInput{Type: events.EventTypeCustom, Name: strings.Repeat("x", 101), Path: "/"}, events.ErrEventNameTooLong},
		{"empty path", events.RecordInput{Type: events.EventTypePageView}, events.ErrInvalidPath},
		{"relative path", events.RecordInput{Type: events.EventTypePageView, Path: "blog"}, events.ErrInvalidPath},
		{"unencodable props", events.RecordInput{Type: events.EventTypeCustom, Name: "x", Path: "/", Props: map[string]any{"n": math.NaN()}}, events.ErrPropsEncoding},
		{"oversized props", events.RecordInput{Type: events.EventTypeCustom, Name: "x", Path: "/", Props: map[string]any{"blob": strings.Repeat("a", 3000)}}, events.ErrPropsTooLarge},
	}

	recorder, db := newRecorder(t, events.RecorderOptions{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := recorder.Record(context.Background(), tc.input)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, events.IsValidationError(err))
		})
	}
	assert.Zero(t, countEvents(t, db))
}

func TestRecordNameLimitCountsCharacters(t *testing.T) {
	recorder, _ := newRecorder(t, events.RecorderOptions{})

	_, err := recorder.Record(context.Background(), events.RecordInput{
		Type: events.EventTypeCustom,
		Name: strings.Repeat("é", events.MaxEventNameLength),
		Path: "/",
	})
	assert.NoError(t, err)
}

func TestRecordPropsLimitIsConfigurable(t *testing.T) {
	recorder, _ := newRecorder(t, events.RecorderOptions{PropsMaxBytes: 64})

	_, err := recorder.Record(context.Background(), events.RecordInput{
		Type:  events.EventTypeCustom,
		Name:  "x",
		Path:  "/",
		Props: map[string]any{"k": strings.Repeat("a", 80)},
	})
	assert.ErrorIs(t, err, events.ErrPropsTooLarge)
}

func TestRecordSkipsExcludedIPs(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{
		Exclusions: staticExclusions{ips: []string{"198.51.100.7"}},
	})

	receipt, err := recorder.Record(context.Background(), events.RecordInput{
		Type:    events.EventTypePageView,
		Path:    "/",
		Request: events.RequestMetadata{IP: "198.51.100.7"},
	})
	require.NoError(t, err)
	assert.True(t, receipt.Skipped)
	assert.Zero(t, countEvents(t, db))
}

func TestRecordIgnoresExclusionLookupFailures(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{
		Exclusions: staticExclusions{err: errors.New("settings unavailable")},
	})

	_, err := recorder.Record(context.Background(), events.RecordInput{
		Type:    events.EventTypePageView,
		Path:    "/",
		Request: events.RequestMetadata{IP: "198.51.100.7"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), countEvents(t, db))
}

func TestRecordFlagsBots(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{})

	receipt, err := recorder.Record(context.Background(), events.RecordInput{
		Type:    events.EventTypePageView,
		Path:    "/",
		Request: events.RequestMetadata{UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"},
	})
	require.NoError(t, err)

	var stored events.Event
	require.NoError(t, db.First(&stored, receipt.EventID).Error)
	require.NotNil(t, stored.IsBot)
	assert.True(t, *stored.IsBot)
}

func TestRecordWithoutMetadataDegradesGracefully(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{})

	receipt, err := recorder.Record(context.Background(), events.RecordInput{Type: events.EventTypePageView, Path: "/"})
	require.NoError(t, err)

	var stored events.Event
	require.NoError(t, db.First(&stored, receipt.EventID).Error)
	assert.Nil(t, stored.IP)
	assert.Nil(t, stored.Browser)
	assert.Nil(t, stored.OS)
	assert.Nil(t, stored.DeviceType)
	assert.Nil(t, stored.Country)
	assert.Nil(t, stored.UserAgent)
	require.NotNil(t, stored.IsBot)
	assert.False(t, *stored.IsBot)
}

func TestRecordCountryFallsBackToLocator(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{
		Countries: staticCountries{"203.0.113.9": "nl"},
	})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"header wins", "DE", "DE"},
		{"unknown header falls back", "XX", "NL"},
		{"missing header falls back", "", "NL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			receipt, err := recorder.Record(context.Background(), events.RecordInput{
				Type:    events.EventTypePageView,
				Path:    "/",
				Request: events.RequestMetadata{IP: "203.0.113.9", Country: tc.header},
			})
			require.NoError(t, err)

			var stored events.Event
			require.NoError(t, db.First(&stored, receipt.EventID).Error)
			require.NotNil(t, stored.Country)
			assert.Equal(t, tc.want, *stored.Country)
		})
	}
}

func TestRecordSessionIdentity(t *testing.T) {
	recorder, db := newRecorder(t, events.RecorderOptions{Resolver: visitors.NewSessionResolver()})

	first, err := recorder.Record(context.Background(), events.RecordInput{Type: events.EventTypePageView, Path: "/"})
	require.NoError(t, err)
	assert.True(t, first.Identity.Issued)

	second, err := recorder.Record(context.Background(), events.RecordInput{
		Type:    events.EventTypePageView,
		Path:    "/about",
		Request: events.RequestMetadata{SessionCookie: first.Identity.VisitorKey},
	})
	require.NoError(t, err)
	assert.False(t, second.Identity.Issued)
	assert.Equal(t, first.Identity.VisitorKey, second.Identity.VisitorKey)

	var keys []string
	require.NoError(t, db.Model(&events.Event{}).Distinct().Pluck("visitor_key", &keys).Error)
	assert.Len(t, keys, 1)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{" /docs ", "/docs", false},
		{"/search?q=secret", "/search", false},
		{"/page#section", "/page", false},
		{"?q=1", "", true},
		{"https://example.com/", "", true},
		{"/" + strings.Repeat("a", events.MaxPathLength), "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := events.NormalizePath(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, events.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
