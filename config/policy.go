package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes the abuse detector. It ships with defaults and can be
// overridden from a YAML file.
type Policy struct {
	// BurstThreshold is how many requests inside BurstWindow count as a burst.
	BurstThreshold int `yaml:"burst_threshold"`

	// BurstWindow is the short accounting window for burst detection,
	// e.g. "10s".
	BurstWindow string `yaml:"burst_window"`

	// FingerprintIPMax is how many distinct addresses may share one
	// fingerprint in a short period before it counts as a signal.
	FingerprintIPMax int `yaml:"fingerprint_ip_max"`

	// Signal weights added to the risk score per observation.
	WeightBurst             float64 `yaml:"weight_burst"`
	WeightMissingHeaders    float64 `yaml:"weight_missing_headers"`
	WeightAutomation        float64 `yaml:"weight_automation"`
	WeightSharedFingerprint float64 `yaml:"weight_shared_fingerprint"`

	// DecayPerHour is subtracted from the score per hour since the last
	// observation, computed lazily at read time.
	DecayPerHour float64 `yaml:"decay_per_hour"`

	// AutomationAgents are user-agent substrings of known automation tools.
	AutomationAgents []string `yaml:"automation_agents,omitempty"`
}

// DefaultPolicy returns the policy shipped with the product.
func DefaultPolicy() Policy {
	return Policy{
		BurstThreshold:          30,
		BurstWindow:             "10s",
		FingerprintIPMax:        5,
		WeightBurst:             2.5,
		WeightMissingHeaders:    1.5,
		WeightAutomation:        3.0,
		WeightSharedFingerprint: 4.0,
		DecayPerHour:            1.0,
		AutomationAgents: []string{
			"curl", "wget", "python-requests", "httpclient",
			"scrapy", "headlesschrome", "phantomjs", "selenium", "puppeteer",
		},
	}
}

// LoadPolicyFile loads an abuse policy from a YAML file. Fields left unset
// keep their defaults.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read policy file: %v", ErrInvalidPolicy, err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidPolicy, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the policy for nonsensical values.
func (p *Policy) Validate() error {
	if p.BurstThreshold <= 0 {
		return fmt.Errorf("%w: burst_threshold must be positive", ErrInvalidPolicy)
	}
	if p.FingerprintIPMax <= 0 {
		return fmt.Errorf("%w: fingerprint_ip_max must be positive", ErrInvalidPolicy)
	}
	if _, err := time.ParseDuration(p.BurstWindow); err != nil {
		return fmt.Errorf("%w: burst_window: %v", ErrInvalidPolicy, err)
	}
	for name, w := range map[string]float64{
		"weight_burst":              p.WeightBurst,
		"weight_missing_headers":    p.WeightMissingHeaders,
		"weight_automation":         p.WeightAutomation,
		"weight_shared_fingerprint": p.WeightSharedFingerprint,
		"decay_per_hour":            p.DecayPerHour,
	} {
		if w < 0 {
			return fmt.Errorf("%w: %s cannot be negative", ErrInvalidPolicy, name)
		}
	}
	return nil
}

// BurstWindowDuration returns the parsed burst window. Validate guarantees
// it parses; a zero value falls back to 10 seconds.
func (p *Policy) BurstWindowDuration() time.Duration {
	d, err := time.ParseDuration(p.BurstWindow)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
