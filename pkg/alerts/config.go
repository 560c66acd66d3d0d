package alerts

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule codes. One alert row exists per (rule code, review).
const (
	RuleNegativeNoReply = "NEGATIVE_NO_REPLY"
	RuleRatingDrop      = "RATING_DROP"
	RuleNegativitySpike = "NEGATIVITY_SPIKE"
	RuleLongNegative    = "LONG_NEGATIVE"
)

const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Profile "strict" escalates unanswered-negative alerts to high.
const (
	ProfileStandard = "standard"
	ProfileStrict   = "strict"
)

// RuleConfig holds the tunable thresholds for the four alert rules.
// Loaded from YAML when ALERT_RULES_PATH is set, otherwise defaults.
type RuleConfig struct {
	Profile string `yaml:"profile" json:"profile"`

	NegativeNoReply struct {
		MaxHoursUnanswered float64 `yaml:"max_hours_unanswered" json:"max_hours_unanswered"`
	} `yaml:"negative_no_reply" json:"negative_no_reply"`

	RatingDrop struct {
		MinDelta  float64 `yaml:"min_delta" json:"min_delta"`
		HighDelta float64 `yaml:"high_delta" json:"high_delta"`
	} `yaml:"rating_drop" json:"rating_drop"`

	NegativitySpike struct {
		Threshold int `yaml:"threshold" json:"threshold"`
	} `yaml:"negativity_spike" json:"negativity_spike"`

	LongNegative struct {
		MinLength int `yaml:"min_length" json:"min_length"`
	} `yaml:"long_negative" json:"long_negative"`
}

func DefaultRules() RuleConfig {
	var cfg RuleConfig
	cfg.Profile = ProfileStandard
	cfg.NegativeNoReply.MaxHoursUnanswered = 24
	cfg.RatingDrop.MinDelta = 0.2
	cfg.RatingDrop.HighDelta = 0.5
	cfg.NegativitySpike.Threshold = 4
	cfg.LongNegative.MinLength = 250
	return cfg
}

// LoadRules reads a threshold profile from path. An empty path yields
// the defaults; unset fields in the file keep the default value.
func LoadRules(path string) (RuleConfig, error) {
	cfg := DefaultRules()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return DefaultRules(), fmt.Errorf("parsing alert rules: %w", err)
	}
	if cfg.Profile != ProfileStandard && cfg.Profile != ProfileStrict {
		return DefaultRules(), fmt.Errorf("unknown alert profile %q", cfg.Profile)
	}
	return cfg, nil
}
