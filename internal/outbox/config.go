package outbox

import (
	"time"

	appconfig "github.com/smallbiznis/repricer/internal/config"
)

// Config controls dispatch cadence and the retry policy.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxRetries        int
	FailedThreshold   int64
	DLQThreshold      int64
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		BatchSize:         100,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          time.Minute,
		MaxRetries:        5,
		FailedThreshold:   10,
		DLQThreshold:      100,
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
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.FailedThreshold <= 0 {
		c.FailedThreshold = defaults.FailedThreshold
	}
	if c.DLQThreshold <= 0 {
		c.DLQThreshold = defaults.DLQThreshold
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		PollInterval:      cfg.Outbox.PollInterval,
		BatchSize:         cfg.Outbox.BatchSize,
		InitialDelay:      cfg.Outbox.InitialDelay,
		BackoffMultiplier: cfg.Outbox.BackoffMultiplier,
		MaxDelay:          cfg.Outbox.MaxDelay,
		MaxRetries:        cfg.Outbox.MaxRetries,
		FailedThreshold:   cfg.Outbox.FailedThreshold,
		DLQThreshold:      cfg.Outbox.DLQThreshold,
	}
}
