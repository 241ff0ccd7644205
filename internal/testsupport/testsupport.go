package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tally/internal"
	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/events"
)

// testDBCache caches test databases by root test name so helpers called from
// subtests share the parent's database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// UseTestConfig points the config singleton at the test environment with
// the given overrides applied as TALLY_* variables.
func UseTestConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()

	t.Setenv("TALLY_ENV", config.Test)
	for k, v := range env {
		t.Setenv(k, v)
	}
	config.Reset()
	t.Cleanup(config.Reset)

	cfg := config.GetConfig()
	require.Equal(t, config.Test, cfg.Environment)
	return cfg
}

// SetupTestDB returns an in-memory database with every tally table migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager returns a DB manager over a fresh test database.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanTables empties the given tables, or every tally table when none are named.
func CleanTables(db *gorm.DB, tables ...string) {
	if len(tables) == 0 {
		tables = []string{"analytics_events", "analytics_monthly", "analytics_yearly", "analytics_all_time", "rollup_runs", "settings"}
	}
	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// EventSpec describes an event row for InsertEvent. Zero values get
// defaults: a page view on "/" from visitor "visitor-1", created now.
type EventSpec struct {
	Type           events.EventType
	Name           string
	Path           string
	VisitorKey     string
	Referrer       string
	ReferrerDomain string
	Country        string
	Browser        string
	OS             string
	DeviceType     string
	IsBot          *bool
	Props          string
	CreatedAt      time.Time
}

// Bool returns a pointer for EventSpec.IsBot.
func Bool(b bool) *bool { return &b }

// InsertEvent writes an event row directly, bypassing the recorder.
func InsertEvent(t *testing.T, db *gorm.DB, spec EventSpec) *events.Event {
	t.Helper()

	if spec.Type == "" {
		spec.Type = events.EventTypePageView
	}
	if spec.Path == "" {
		spec.Path = "/"
	}
	if spec.VisitorKey == "" {
		spec.VisitorKey = "visitor-1"
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	isBot := spec.IsBot
	if isBot == nil {
		isBot = Bool(false)
	}

	event := &events.Event{
		VisitorKey:     spec.VisitorKey,
		EventType:      spec.Type,
		Path:           spec.Path,
		Referrer:       optional(spec.Referrer),
		ReferrerDomain: optional(spec.ReferrerDomain),
		Country:        optional(spec.Country),
		Browser:        optional(spec.Browser),
		OS:             optional(spec.OS),
		DeviceType:     optional(spec.DeviceType),
		IsBot:          isBot,
		Props:          optional(spec.Props),
		CreatedAt:      spec.CreatedAt.UnixMilli(),
	}
	if spec.Type == events.EventTypeCustom {
		name := spec.Name
		event.EventName = &name
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateMinimalTestApp builds a cartridge server with every tally route
// mounted over db and returns its fiber app.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()
	require.Equal(t, config.Test, appConfig.Environment, "call UseTestConfig first")

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin", "none"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
