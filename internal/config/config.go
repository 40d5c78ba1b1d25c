package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DefaultOrgID int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// RedisAddr enables the loop leases. Empty means single-instance mode
	// with no cross-process mutual exclusion.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Scheduler SchedulerConfig
	Applier   ApplierConfig
	Outbox    OutboxConfig
	Connector ConnectorConfig
}

// ConnectorConfig selects and configures the platform connector.
type ConnectorConfig struct {
	Platform      string
	BaseURL       string
	APIKey        string
	SigningSecret string
}

// SchedulerConfig tunes the rule scheduler loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// ApplierConfig tunes the apply worker loop.
type ApplierConfig struct {
	PollInterval      time.Duration
	RunBatchSize      int
	TargetDelay       time.Duration
	CallTimeout       time.Duration
	RecoveryThreshold time.Duration
}

// OutboxConfig tunes outbox dispatch and retry.
type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxRetries        int
	FailedThreshold   int64
	DLQThreshold      int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "repricer"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DefaultOrgID: getenvInt64("DEFAULT_ORG", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "repricer"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Scheduler: SchedulerConfig{
			PollInterval: getenvDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
			BatchSize:    getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
		Applier: ApplierConfig{
			PollInterval:      getenvDuration("APPLIER_POLL_INTERVAL", 15*time.Second),
			RunBatchSize:      getenvInt("APPLIER_RUN_BATCH_SIZE", 10),
			TargetDelay:       getenvDuration("APPLIER_TARGET_DELAY", 100*time.Millisecond),
			CallTimeout:       getenvDuration("APPLIER_CALL_TIMEOUT", 15*time.Second),
			RecoveryThreshold: getenvDuration("APPLIER_RECOVERY_THRESHOLD", 10*time.Minute),
		},
		Outbox: OutboxConfig{
			PollInterval:      getenvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:         getenvInt("OUTBOX_BATCH_SIZE", 100),
			InitialDelay:      getenvDuration("OUTBOX_INITIAL_DELAY", time.Second),
			BackoffMultiplier: getenvFloat("OUTBOX_BACKOFF_MULTIPLIER", 2),
			MaxDelay:          getenvDuration("OUTBOX_MAX_DELAY", time.Minute),
			MaxRetries:        getenvInt("OUTBOX_MAX_RETRIES", 5),
			FailedThreshold:   int64(getenvInt("OUTBOX_FAILED_THRESHOLD", 10)),
			DLQThreshold:      int64(getenvInt("OUTBOX_DLQ_THRESHOLD", 100)),
		},
		Connector: ConnectorConfig{
			Platform:      getenv("CONNECTOR_PLATFORM", "static"),
			BaseURL:       getenv("CONNECTOR_BASE_URL", ""),
			APIKey:        getenv("CONNECTOR_API_KEY", ""),
			SigningSecret: getenv("CONNECTOR_SIGNING_SECRET", ""),
		},
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingPolicyHolder),
)

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getenvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
