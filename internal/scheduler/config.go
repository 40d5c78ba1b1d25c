package scheduler

import (
	"time"

	appconfig "github.com/smallbiznis/repricer/internal/config"
)

// Config controls the scheduling loop cadence and batch size.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	JobTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		BatchSize:    50,
		JobTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
	}
}
