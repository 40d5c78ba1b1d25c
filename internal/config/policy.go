package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingPolicy bounds what a rule transform is allowed to do. Rules that
// exceed the policy are rejected at write time.
type PricingPolicy struct {
	// MaxPercentage caps the magnitude of percentage transforms.
	MaxPercentage float64 `mapstructure:"maxPercentage"`
	// MinAmount is the lowest minor-unit price a fixed transform may set.
	MinAmount int64 `mapstructure:"minAmount"`
}

func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		MaxPercentage: 90,
		MinAmount:     0,
	}
}

type PricingPolicyHolder struct {
	current atomic.Value // holds PricingPolicy
}

func NewPricingPolicyHolder() (*PricingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/repricer/config") // Volume-mounted config
	v.AddConfigPath("/etc/repricer")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("REPRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPricingPolicy()
		v.SetDefault("pricing.maxPercentage", defaults.MaxPercentage)
		v.SetDefault("pricing.minAmount", defaults.MinAmount)
	}

	var policy PricingPolicy
	if err := v.UnmarshalKey("pricing", &policy); err != nil {
		return nil, err
	}
	if err := validatePricingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &PricingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingPolicy
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-policy] reload failed: %v", err)
			return
		}
		if err := validatePricingPolicy(updated); err != nil {
			log.Printf("[pricing-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingPolicyHolder) Get() PricingPolicy {
	return h.current.Load().(PricingPolicy)
}

// Allows reports whether a percentage delta and a fixed amount stay inside
// the policy. Either argument may be zero when the transform has no such
// component.
func (p PricingPolicy) Allows(percentage float64, fixedAmount int64, isFixed bool) error {
	if p.MaxPercentage > 0 && (percentage > p.MaxPercentage || percentage < -p.MaxPercentage) {
		return errors.New("percentage exceeds pricing policy")
	}
	if isFixed && fixedAmount < p.MinAmount {
		return errors.New("fixed amount below pricing policy minimum")
	}
	return nil
}

func validatePricingPolicy(p PricingPolicy) error {
	if p.MaxPercentage < 0 {
		return errors.New("pricing.maxPercentage cannot be negative")
	}
	if p.MinAmount < 0 {
		return errors.New("pricing.minAmount cannot be negative")
	}
	return nil
}
