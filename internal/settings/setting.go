// Package settings stores runtime-editable key/value settings such as the
// list of IPs whose traffic is never recorded.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

const KeyExcludedIPs = "excluded_ips"

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Store reads and writes settings. Excluded IPs are served from a five
// minute cache that is dropped on every write.
type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	excluded *cache.Cache[string, []string]
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	s := &Store{db: db, logger: logger}
	s.excluded = cache.NewCache[string, []string](logger, 5*time.Minute, func(key string) ([]string, error) {
		value, err := s.Get(key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return ParseIPList(value), nil
	})
	return s
}

// SetupDefaults inserts missing default settings without touching existing ones.
func (s *Store) SetupDefaults() error {
	defaults := map[string]string{
		KeyExcludedIPs: "",
	}
	return sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for key, value := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, key, value, now, now).Error
			if err != nil {
				return fmt.Errorf("failed to insert default setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// Get returns gorm.ErrRecordNotFound for unknown keys.
func (s *Store) Get(key string) (string, error) {
	var setting Setting
	if err := s.db.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Set creates or updates a setting.
func (s *Store) Set(key, value string) error {
	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	s.excluded.Clear()
	return nil
}

// ExcludedIPs returns the raw client IPs that are never recorded.
func (s *Store) ExcludedIPs() ([]string, error) {
	ips, err := s.excluded.Get(KeyExcludedIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to load excluded IPs: %w", err)
	}
	return ips, nil
}

func (s *Store) SetExcludedIPs(ips []string) error {
	return s.Set(KeyExcludedIPs, strings.Join(ParseIPList(strings.Join(ips, ",")), ","))
}

func (s *Store) IsIPExcluded(ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	ips, err := s.ExcludedIPs()
	if err != nil {
		return false, err
	}
	for _, excluded := range ips {
		if excluded == ip {
			return true, nil
		}
	}
	return false, nil
}

// ParseIPList splits a comma-separated list, trimming blanks and dropping
// empty entries.
func ParseIPList(value string) []string {
	var ips []string
	for _, ip := range strings.Split(value, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}
