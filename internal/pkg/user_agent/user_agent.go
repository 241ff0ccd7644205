// Package user_agent classifies User-Agent strings into browser, operating
// system, device type and bot flag using ordered rule lists loaded from
// rules.yml.
package user_agent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Classification is the result of Classify. Empty strings mean unknown.
type Classification struct {
	Browser    string
	OS         string
	DeviceType string
	IsBot      bool
}

//go:embed rules.yml
var defaultRules []byte

// RuleSet mirrors the layout of rules.yml.
type RuleSet struct {
	Bots     []NamedRule  `yaml:"bots"`
	Browsers []NamedRule  `yaml:"browsers"`
	OSs      []NamedRule  `yaml:"oss"`
	Devices  []DeviceRule `yaml:"devices"`
}

type NamedRule struct {
	Name    string `yaml:"name"`
	Regex   string `yaml:"regex"`
	Exclude string `yaml:"exclude"`
}

type DeviceRule struct {
	Type  string `yaml:"type"`
	Regex string `yaml:"regex"`
}

type compiledRule struct {
	label   string
	match   *pcre.Regexp
	exclude *pcre.Regexp
}

func (r compiledRule) matches(ua string) bool {
	if !r.match.MatchString(ua) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(ua)
}

// Classifier holds compiled rule lists. It is safe for concurrent use.
type Classifier struct {
	bots     []compiledRule
	browsers []compiledRule
	oss      []compiledRule
	devices  []compiledRule
}

// NewClassifier compiles a YAML rule document.
func NewClassifier(data []byte) (*Classifier, error) {
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("error parsing user agent rules: %w", err)
	}

	c := &Classifier{}
	var err error
	if c.bots, err = compileNamed("bots", rules.Bots); err != nil {
		return nil, err
	}
	if c.browsers, err = compileNamed("browsers", rules.Browsers); err != nil {
		return nil, err
	}
	if c.oss, err = compileNamed("oss", rules.OSs); err != nil {
		return nil, err
	}
	for i, d := range rules.Devices {
		re, err := compile(d.Regex)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		c.devices = append(c.devices, compiledRule{label: d.Type, match: re})
	}
	return c, nil
}

func compileNamed(list string, rules []NamedRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		re, err := compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("%s[%d] %q: %w", list, i, r.Name, err)
		}
		cr := compiledRule{label: r.Name, match: re}
		if r.Exclude != "" {
			if cr.exclude, err = compile(r.Exclude); err != nil {
				return nil, fmt.Errorf("%s[%d] %q exclude: %w", list, i, r.Name, err)
			}
		}
		out = append(out, cr)
	}
	return out, nil
}

func compile(pattern string) (*pcre.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	return pcre.Compile("(?i)" + pattern)
}

func firstMatch(rules []compiledRule, ua string) string {
	for _, r := range rules {
		if r.matches(ua) {
			return r.label
		}
	}
	return ""
}

// Classify never fails; an empty user agent yields the zero Classification.
func (c *Classifier) Classify(ua string) Classification {
	if strings.TrimSpace(ua) == "" {
		return Classification{}
	}

	result := Classification{
		Browser: firstMatch(c.browsers, ua),
		OS:      firstMatch(c.oss, ua),
		IsBot:   firstMatch(c.bots, ua) != "",
	}

	result.DeviceType = firstMatch(c.devices, ua)
	if result.DeviceType == "" && result.OS != "" {
		result.DeviceType = DeviceDesktop
	}
	return result
}

var (
	defaultClassifier *Classifier
	once              sync.Once
)

// Default returns the classifier built from the embedded rules.
func Default() *Classifier {
	once.Do(func() {
		c, err := NewClassifier(defaultRules)
		if err != nil {
			// The embedded rules are covered by tests; an empty classifier
			// keeps ingestion running if they ever break.
			slog.Error("failed to load embedded user agent rules", slog.Any("error", err))
			c = &Classifier{}
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// Classify uses the embedded rules.
func Classify(ua string) Classification {
	return Default().Classify(ua)
}
