package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"tally/internal/metrics"
	"tally/internal/pkg/geoip"
	"tally/internal/pkg/ipanon"
	"tally/internal/pkg/referrers"
	"tally/internal/pkg/user_agent"
	"tally/internal/visitors"
)

const (
	MaxEventNameLength   = 100
	MaxPathLength        = 2048
	DefaultPropsMaxBytes = 2048
	maxReferrerLength    = 2048
	maxUserAgentLength   = 512
)

// Classifier maps a User-Agent header to browser, OS, device and bot flag.
type Classifier interface {
	Classify(ua string) user_agent.Classification
}

// IPExclusions decides whether traffic from a raw client IP is dropped.
type IPExclusions interface {
	IsIPExcluded(ip string) (bool, error)
}

// CountryLocator resolves a raw client IP to an ISO country code.
type CountryLocator interface {
	Country(ip string) string
}

// RequestMetadata is what the HTTP layer knows about the caller.
type RequestMetadata struct {
	IP            string
	UserAgent     string
	Country       string
	SessionCookie string
}

type RecordInput struct {
	Type     EventType
	Name     string
	Path     string
	Referrer string
	Props    map[string]any
	Request  RequestMetadata
}

// Receipt describes a recorded event. Skipped receipts carry no ID.
type Receipt struct {
	EventID  uint
	Identity visitors.Identity
	Skipped  bool
}

type RecorderOptions struct {
	DBManager     cartridge.DBManager
	Logger        *slog.Logger
	Resolver      visitors.Resolver
	Classifier    Classifier
	Exclusions    IPExclusions
	Countries     CountryLocator
	PropsMaxBytes int
	Now           func() time.Time
}

// Recorder validates, enriches and appends events to the log.
type Recorder struct {
	dbManager     cartridge.DBManager
	logger        *slog.Logger
	resolver      visitors.Resolver
	classifier    Classifier
	exclusions    IPExclusions
	countries     CountryLocator
	propsMaxBytes int
	now           func() time.Time
}

func NewRecorder(opts RecorderOptions) *Recorder {
	r := &Recorder{
		dbManager:     opts.DBManager,
		logger:        opts.Logger,
		resolver:      opts.Resolver,
		classifier:    opts.Classifier,
		exclusions:    opts.Exclusions,
		countries:     opts.Countries,
		propsMaxBytes: opts.PropsMaxBytes,
		now:           opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.classifier == nil {
		r.classifier = user_agent.Default()
	}
	if r.propsMaxBytes <= 0 {
		r.propsMaxBytes = DefaultPropsMaxBytes
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Record validates input and appends one event. Validation failures wrap one
// of the package's sentinel errors and nothing is written. Traffic from an
// excluded IP returns a skipped receipt and a nil error.
func (r *Recorder) Record(ctx context.Context, input RecordInput) (Receipt, error) {
	event, err := r.buildEvent(input)
	if err != nil {
		metrics.RecordEvent(string(input.Type), metrics.OutcomeInvalid)
		return Receipt{}, err
	}

	meta := input.Request
	if r.exclusions != nil && meta.IP != "" {
		excluded, err := r.exclusions.IsIPExcluded(meta.IP)
		if err != nil {
			r.logger.Warn("Error checking IP exclusion", slog.Any("error", err))
		} else if excluded {
			r.logger.Debug("Skipping event for excluded IP", slog.String("path", event.Path))
			metrics.RecordEvent(string(event.EventType), metrics.OutcomeSkipped)
			return Receipt{Skipped: true}, nil
		}
	}

	identity := r.resolver.Resolve(visitors.Request{
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
		SessionCookie: meta.SessionCookie,
	})
	event.VisitorKey = identity.VisitorKey

	classification := r.classifier.Classify(meta.UserAgent)
	event.Browser = nullable(classification.Browser)
	event.OS = nullable(classification.OS)
	event.DeviceType = nullable(classification.DeviceType)
	isBot := classification.IsBot
	event.IsBot = &isBot

	event.UserAgent = nullable(truncate(meta.UserAgent, maxUserAgentLength))
	event.IP = nullable(ipanon.Anonymise(meta.IP))
	event.Country = nullable(r.country(meta))
	event.CreatedAt = r.now().UnixMilli()

	db := r.dbManager.GetConnection().WithContext(ctx)
	err = sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		metrics.RecordEvent(string(event.EventType), metrics.OutcomeFailed)
		r.logger.Error("Failed to record event",
			slog.String("type", string(event.EventType)),
			slog.String("path", event.Path),
			slog.Any("error", err))
		return Receipt{}, fmt.Errorf("failed to record event: %w", err)
	}

	metrics.RecordEvent(string(event.EventType), metrics.OutcomeRecorded)
	if isBot {
		metrics.BotEventsTotal.Inc()
	}

	return Receipt{EventID: event.ID, Identity: identity}, nil
}

// buildEvent performs every check that does not need request metadata.
func (r *Recorder) buildEvent(input RecordInput) (*Event, error) {
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, input.Type)
	}

	path, err := NormalizePath(input.Path)
	if err != nil {
		return nil, err
	}

	event := &Event{EventType: input.Type, Path: path}

	if input.Type == EventTypeCustom {
		name, err := NormalizeEventName(input.Name)
		if err != nil {
			return nil, err
		}
		event.EventName = &name
	}

	if referrer := strings.TrimSpace(input.Referrer); referrer != "" {
		referrer = truncate(referrer, maxReferrerLength)
		event.Referrer = &referrer
		event.ReferrerDomain = nullable(referrers.Domain(referrer))
	}

	if event.Props, err = r.encodeProps(input.Props); err != nil {
		return nil, err
	}

	return event, nil
}

func (r *Recorder) encodeProps(props map[string]any) (*string, error) {
	if len(props) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPropsEncoding, err)
	}
	if len(encoded) > r.propsMaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPropsTooLarge, len(encoded), r.propsMaxBytes)
	}
	s := string(encoded)
	return &s, nil
}

// country prefers the CDN header and falls back to the GeoIP database.
func (r *Recorder) country(meta RequestMetadata) string {
	if c := geoip.NormalizeCountry(meta.Country); c != "" {
		return c
	}
	if r.countries != nil && meta.IP != "" {
		return geoip.NormalizeCountry(r.countries.Country(meta.IP))
	}
	return ""
}

// NormalizeEventName trims the name and enforces 1..100 characters.
func NormalizeEventName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEventNameRequired
	}
	if utf8.RuneCountInString(name) > MaxEventNameLength {
		return "", ErrEventNameTooLong
	}
	return name, nil
}

// NormalizePath drops any query string or fragment and requires a leading
// slash.
func NormalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path[0] != '/' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if len(path) > MaxPathLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, MaxPathLength)
	}
	return path, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
