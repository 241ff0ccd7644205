// Package config provides configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// DefaultSalt is only acceptable outside production.
const DefaultSalt = "tally-development-salt-change-me"

// Config holds all configuration parameters for the application
type Config struct {
	AppName     string   `mapstructure:"appname" validate:"required"`
	AppPort     string   `mapstructure:"appport" validate:"required,numeric"`
	Environment string   `mapstructure:"environment" validate:"oneof=development production test"`
	LogLevel    LogLevel `mapstructure:"loglevel" validate:"oneof=debug info warn error"`

	// Identity. Salt feeds the visitor hash and signs cartridge sessions; it is
	// never logged.
	IdentityMode  string `mapstructure:"identitymode" validate:"oneof=hash session"`
	Salt          string `mapstructure:"salt" validate:"required,min=16"`
	SecureCookies bool   `mapstructure:"securecookies"`

	// Access control. Empty tokens leave the endpoint open.
	RollupToken    string `mapstructure:"rolluptoken"`
	DashboardToken string `mapstructure:"dashboardtoken"`

	// Rollup scheduling. An empty schedule disables the background job.
	RollupSchedule string `mapstructure:"rollupschedule"`

	PropsMaxBytes int `mapstructure:"propsmaxbytes" validate:"min=64,max=65536"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb" validate:"min=1"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups" validate:"min=0"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays" validate:"min=0"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns" validate:"min=0"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns" validate:"min=0"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		c, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = c
	})
	return cfg
}

// Load reads defaults and TALLY_* environment variables and validates the
// result. GetConfig caches it for the process.
func Load() (*Config, error) {
	v := viper.New()
	// An explicitly empty TALLY_ROLLUP_SCHEDULE disables the job.
	v.AllowEmptyEnv(true)

	v.SetDefault("appname", "tally")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("identitymode", "hash")
	v.SetDefault("salt", DefaultSalt)
	v.SetDefault("securecookies", false)
	v.SetDefault("rollupschedule", "@hourly")
	v.SetDefault("propsmaxbytes", 2048)
	v.SetDefault("storagepath", "storage")
	v.SetDefault("geodbpath", "storage/GeoLite2-Country.mmdb")
	v.SetDefault("publicdir", "web/public")
	v.SetDefault("publicassetsurlprefix", "/")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)

	v.BindEnv("appname", "TALLY_APP_NAME")
	v.BindEnv("appport", "TALLY_APP_PORT")
	v.BindEnv("environment", "TALLY_ENV")
	v.BindEnv("loglevel", "TALLY_LOG_LEVEL")
	v.BindEnv("identitymode", "TALLY_IDENTITY_MODE")
	v.BindEnv("salt", "TALLY_SALT", "ANALYTICS_SALT")
	v.BindEnv("securecookies", "TALLY_SECURE_COOKIES")
	v.BindEnv("rolluptoken", "TALLY_ROLLUP_TOKEN", "ROLLUP_TOKEN")
	v.BindEnv("dashboardtoken", "TALLY_DASHBOARD_TOKEN")
	v.BindEnv("rollupschedule", "TALLY_ROLLUP_SCHEDULE")
	v.BindEnv("propsmaxbytes", "TALLY_PROPS_MAX_BYTES")
	v.BindEnv("storagepath", "TALLY_STORAGE_PATH")
	v.BindEnv("geodbpath", "TALLY_GEO_DB_PATH")
	v.BindEnv("publicdir", "TALLY_PUBLIC_DIR")
	v.BindEnv("publicassetsurlprefix", "TALLY_PUBLIC_ASSETS_URL_PREFIX")
	v.BindEnv("logsdir", "TALLY_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "TALLY_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "TALLY_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "TALLY_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbmaxopenconns", "TALLY_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "TALLY_DB_MAX_IDLE_CONNS")

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	c.IdentityMode = strings.ToLower(strings.TrimSpace(c.IdentityMode))

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()
	if c.IsProduction() {
		c.SecureCookies = true
	}
	return c, nil
}

var structValidator = validator.New()

// validate checks the configuration for errors
func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			// Field names only; values may be secrets.
			return fmt.Errorf("field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	if c.IsProduction() && c.Salt == DefaultSalt {
		return errors.New("production requires a unique TALLY_SALT (cannot use default)")
	}

	if c.RollupSchedule != "" {
		if _, err := cron.ParseStandard(c.RollupSchedule); err != nil {
			return fmt.Errorf("invalid rollup schedule %q: %w", c.RollupSchedule, err)
		}
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.Salt
}

// GetMaxOpenConns defaults to 1 under test and 10 otherwise so dashboard
// reads can run in parallel.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
