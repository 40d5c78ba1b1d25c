package applier

import (
	"time"

	appconfig "github.com/smallbiznis/repricer/internal/config"
)

// Config controls the apply loop cadence and the pacing of platform calls.
type Config struct {
	PollInterval time.Duration
	RunBatchSize int
	TargetDelay  time.Duration
	CallTimeout  time.Duration
	// RecoveryThreshold is how long a run may sit in APPLYING before the
	// sweep treats its worker as gone and requeues it.
	RecoveryThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      15 * time.Second,
		RunBatchSize:      10,
		TargetDelay:       100 * time.Millisecond,
		CallTimeout:       15 * time.Second,
		RecoveryThreshold: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunBatchSize <= 0 {
		c.RunBatchSize = defaults.RunBatchSize
	}
	if c.TargetDelay < 0 {
		c.TargetDelay = defaults.TargetDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		PollInterval:      cfg.Applier.PollInterval,
		RunBatchSize:      cfg.Applier.RunBatchSize,
		TargetDelay:       cfg.Applier.TargetDelay,
		CallTimeout:       cfg.Applier.CallTimeout,
		RecoveryThreshold: cfg.Applier.RecoveryThreshold,
	}
}
