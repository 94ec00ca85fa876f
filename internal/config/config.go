// Package config loads MailPipe's agent tuning file.
//
// Process wiring (addresses, keys, DSNs) comes from the environment and CLI
// flags. The YAML file only carries what shapes the agent's behaviour: stage
// settings, upstream timeouts and the retention sweep.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/MailPipe/internal/flow"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "MAILPIPE_CONFIG"

// Config is the root of the YAML file.
type Config struct {
	Agent     flow.Config     `yaml:"agent"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Retention RetentionConfig `yaml:"retention"`
}

// TimeoutsConfig bounds every upstream call.
type TimeoutsConfig struct {
	LLM     time.Duration `yaml:"llm"`
	Gateway time.Duration `yaml:"gateway"`
	// Run and Health apply when the gateway talks to a remote agent backend.
	Run    time.Duration `yaml:"run"`
	Health time.Duration `yaml:"health"`
}

// RetentionConfig controls the stale thread sweep. A zero TTL disables it.
type RetentionConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Schedule string        `yaml:"schedule"`
	// JobTimeout caps a single sweep.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Agent: flow.DefaultConfig(),
		Timeouts: TimeoutsConfig{
			LLM:     60 * time.Second,
			Gateway: 10 * time.Second,
			Run:     120 * time.Second,
			Health:  5 * time.Second,
		},
		Retention: RetentionConfig{
			TTL:        7 * 24 * time.Hour,
			Schedule:   "@hourly",
			JobTimeout: time.Minute,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Environment references (${VAR}) in the file are expanded first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects negative values. Zero values are left for the consumers'
// own defaults.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"timeouts.llm", c.Timeouts.LLM},
		{"timeouts.gateway", c.Timeouts.Gateway},
		{"timeouts.run", c.Timeouts.Run},
		{"timeouts.health", c.Timeouts.Health},
		{"retention.ttl", c.Retention.TTL},
		{"retention.job_timeout", c.Retention.JobTimeout},
	}
	for _, ch := range checks {
		if ch.d < 0 {
			return fmt.Errorf("%w: %s must not be negative", models.ErrInput, ch.name)
		}
	}
	if c.Agent.MaxClarificationRounds < 0 {
		return fmt.Errorf("%w: agent.max_clarification_rounds must not be negative", models.ErrInput)
	}
	if c.Retention.TTL > 0 && c.Retention.Schedule == "" {
		return fmt.Errorf("%w: retention.schedule is required when retention.ttl is set", models.ErrInput)
	}
	return nil
}
