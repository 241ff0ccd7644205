// Package geoip resolves client addresses to ISO country codes using an
// optional GeoLite2 database.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Locator wraps a GeoLite2 reader. A Locator without a database answers ""
// for every lookup, so callers never need to check whether GeoIP is enabled.
type Locator struct {
	mu     sync.RWMutex
	path   string
	reader *geoip2.Reader
	logger *slog.Logger
}

// Open loads the database at path. Missing or unreadable files disable
// lookups and are logged, never returned.
func Open(path string, logger *slog.Logger) *Locator {
	l := &Locator{path: path, logger: logger}
	l.reader = l.load()
	return l
}

func (l *Locator) load() *geoip2.Reader {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - country fallback disabled")
		return nil
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		l.logger.Info("GeoLite2 database not found - country fallback disabled",
			slog.String("path", l.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		l.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	reader, err := geoip2.Open(l.path)
	if err != nil {
		l.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	l.logger.Info("GeoLite2 database loaded", slog.String("path", l.path))
	return reader
}

// Enabled reports whether a database is loaded.
func (l *Locator) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reader != nil
}

// Country returns the upper-case ISO 3166-1 alpha-2 code for ip, or "".
func (l *Locator) Country(ip string) string {
	if l == nil {
		return ""
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reader == nil {
		return ""
	}

	record, err := l.reader.Country(parsed)
	if err != nil {
		l.logger.Debug("GeoIP lookup failed", slog.Any("error", err))
		return ""
	}
	return strings.ToUpper(record.Country.IsoCode)
}

// Reload reopens the database file, e.g. after a monthly GeoLite2 update.
func (l *Locator) Reload() {
	reader := l.load()

	l.mu.Lock()
	old := l.reader
	l.reader = reader
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (l *Locator) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

// NormalizeCountry cleans a country code supplied by a CDN header. Cloudflare
// reports "XX" for unknown and "T1" for Tor; both become "".
func NormalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code == "XX" || code == "T1" {
		return ""
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return code
}
