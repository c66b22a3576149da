package jobs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftnote/driftnote-backend/internal/types"
)

// ScheduleConfig resolves cadence labels to durations and carries the
// maintenance windows. Loaded from YAML when SCHEDULE_CONFIG_PATH is
// set; otherwise defaults apply.
type ScheduleConfig struct {
	Cadences       map[string]time.Duration
	Retention      time.Duration
	EvictInterval  time.Duration
	DigestInterval time.Duration
}

type scheduleConfigYAML struct {
	Cadences map[string]string `yaml:"cadences"`
	Evict    struct {
		Retention string `yaml:"retention"`
		Interval  string `yaml:"interval"`
	} `yaml:"evict"`
	Digest struct {
		Interval string `yaml:"interval"`
	} `yaml:"digest"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Cadences: map[string]time.Duration{
			types.CadenceHourly:     time.Hour,
			types.CadenceSixHourly:  6 * time.Hour,
			types.CadenceTwelveHour: 12 * time.Hour,
		},
		Retention:      90 * 24 * time.Hour,
		EvictInterval:  7 * 24 * time.Hour,
		DigestInterval: time.Minute,
	}
}

// LoadScheduleConfig reads SCHEDULE_CONFIG_PATH when set. Values missing
// from the file keep their defaults.
func LoadScheduleConfig() (ScheduleConfig, error) {
	cfg := DefaultScheduleConfig()
	path := strings.TrimSpace(os.Getenv("SCHEDULE_CONFIG_PATH"))
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read schedule config: %w", err)
	}
	var parsed scheduleConfigYAML
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return cfg, fmt.Errorf("parse schedule config: %w", err)
	}

	for label, value := range parsed.Cadences {
		d, err := time.ParseDuration(value)
		if err != nil {
			return cfg, fmt.Errorf("cadence %q: %w", label, err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("cadence %q must be positive", label)
		}
		cfg.Cadences[label] = d
	}
	if parsed.Evict.Retention != "" {
		if cfg.Retention, err = time.ParseDuration(parsed.Evict.Retention); err != nil {
			return cfg, fmt.Errorf("evict retention: %w", err)
		}
	}
	if parsed.Evict.Interval != "" {
		if cfg.EvictInterval, err = time.ParseDuration(parsed.Evict.Interval); err != nil {
			return cfg, fmt.Errorf("evict interval: %w", err)
		}
	}
	if parsed.Digest.Interval != "" {
		if cfg.DigestInterval, err = time.ParseDuration(parsed.Digest.Interval); err != nil {
			return cfg, fmt.Errorf("digest interval: %w", err)
		}
	}
	return cfg, nil
}

// CadenceDuration maps a source's cadence label to its collection
// period, falling back to six-hourly for unknown labels.
func (c ScheduleConfig) CadenceDuration(label string) time.Duration {
	if d, ok := c.Cadences[label]; ok {
		return d
	}
	return c.Cadences[types.CadenceSixHourly]
}
