// Package seeder fills the event log with realistic sample traffic for demos
// and load checks.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"

	"tally/internal/events"
	"tally/internal/visitors"
)

const (
	DefaultEventCount = 10000
	DefaultDays       = 30
)

// journeyTemplates are realistic paths visitors take through a site.
var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/", "/features", "/pricing", "/docs", "/signup"},
	{"/blog/article-1", "/about", "/pricing", "/signup"},
}

type customEvent struct {
	name  string
	props map[string]any
}

var customEvents = []customEvent{
	{"newsletter_signup", map[string]any{"source": "footer"}},
	{"demo_requested", map[string]any{"plan": "enterprise"}},
	{"account_created", map[string]any{"plan": "free", "source": "homepage"}},
	{"download_started", map[string]any{"filename": "whitepaper.pdf"}},
	{"free_trial_started", map[string]any{"plan": "pro", "duration": "14_days"}},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	"curl/8.4.0",
}

var referrers = []string{
	"",
	"",
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
	"https://news.ycombinator.com/item?id=1",
	"https://twitter.com/",
	"https://www.linkedin.com/feed/",
	"https://github.com/tally",
	"https://some-other-website.com/blog/post",
}

var countries = []string{"US", "GB", "DE", "FR", "ES", "NL", "CA", "BR", "IN", "JP", ""}

type Options struct {
	EventCount int
	Days       int
	Salt       string
	// Seed makes runs reproducible. Zero picks a random seed.
	Seed uint64
}

// Seeder generates journeys and records them through the regular recorder so
// classification, anonymisation and identity behave exactly as in
// production. Event times are spread over the last Days days.
type Seeder struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	opts      Options
	rng       *rand.Rand
	clock     time.Time
}

func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, opts Options) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventCount <= 0 {
		opts.EventCount = DefaultEventCount
	}
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Seeder{
		dbManager: dbManager,
		logger:    logger,
		opts:      opts,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Seeder) now() time.Time { return s.clock }

// Run records at least EventCount events and returns how many were written.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	start := time.Now()
	s.logger.Info("Seeding events...", slog.Int("eventCount", s.opts.EventCount), slog.Int("days", s.opts.Days))

	resolver := visitors.NewHashResolver(s.opts.Salt).WithClock(s.now)
	recorder := events.NewRecorder(events.RecorderOptions{
		DBManager: s.dbManager,
		Logger:    s.logger,
		Resolver:  resolver,
		Now:       s.now,
	})

	ipPool := s.ipPool(200)
	window := time.Duration(s.opts.Days) * 24 * time.Hour
	created := 0

	for created < s.opts.EventCount {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		// One visitor walks one journey within a few minutes.
		s.clock = start.Add(-time.Duration(s.rng.Int64N(int64(window))))
		meta := events.RequestMetadata{
			IP:        ipPool[s.rng.IntN(len(ipPool))],
			UserAgent: userAgents[s.rng.IntN(len(userAgents))],
			Country:   countries[s.rng.IntN(len(countries))],
		}
		referrer := referrers[s.rng.IntN(len(referrers))]

		for _, path := range journeyTemplates[s.rng.IntN(len(journeyTemplates))] {
			if _, err := recorder.Record(ctx, events.RecordInput{
				Type:     events.EventTypePageView,
				Path:     path,
				Referrer: referrer,
				Request:  meta,
			}); err != nil {
				return created, fmt.Errorf("failed to record page view: %w", err)
			}
			created++
			referrer = ""
			s.clock = s.clock.Add(time.Duration(5+s.rng.IntN(90)) * time.Second)
		}

		if s.rng.IntN(4) == 0 {
			event := customEvents[s.rng.IntN(len(customEvents))]
			if _, err := recorder.Record(ctx, events.RecordInput{
				Type:    events.EventTypeCustom,
				Name:    event.name,
				Path:    "/signup",
				Props:   event.props,
				Request: meta,
			}); err != nil {
				return created, fmt.Errorf("failed to record custom event: %w", err)
			}
			created++
		}
	}

	s.logger.Info("Seeding completed", slog.Int("created", created), slog.Duration("elapsed", time.Since(start)))
	return created, nil
}

// ipPool creates unique public-looking IPv4 addresses.
func (s *Seeder) ipPool(count int) []string {
	seen := make(map[string]bool, count)
	ips := make([]string, 0, count)
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", s.rng.IntN(223)+1, s.rng.IntN(256), s.rng.IntN(256), s.rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}
