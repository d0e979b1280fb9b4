// Package config is the ambient environment-driven configuration
// layer, loaded with viper the way the teacher does, generalized from
// a single required .env/toml file to the full AutomaticEnv variable
// set spec section 6 enumerates.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-driven tunable the service reads at
// startup.
type Config struct {
	// Data-store connection and namespace separation between the
	// queue and the status store (spec section 6).
	StoreHost      string `mapstructure:"STORE_HOST"`
	StorePort      string `mapstructure:"STORE_PORT"`
	QueueDBIndex   int    `mapstructure:"CELERY_DB_INDEX"`
	StatusDBIndex  int    `mapstructure:"STATUS_DB_INDEX"`

	WebhookAllowlist  string `mapstructure:"WEBHOOK_ALLOWLIST"`
	WebhookHMACSecret string `mapstructure:"WEBHOOK_HMAC_SECRET"`

	ComputeConcurrency  int  `mapstructure:"COMPUTE_CONCURRENCY"`
	DeliveryConcurrency int  `mapstructure:"DELIVERY_CONCURRENCY"`
	PrefetchMultiplier  int  `mapstructure:"PREFETCH_MULTIPLIER"`
	TaskAckLate         bool `mapstructure:"TASK_ACK_LATE"`

	DeliveryMaxAttempts int `mapstructure:"DELIVERY_MAX_ATTEMPTS"`
	DeliveryRetryMinS   int `mapstructure:"DELIVERY_RETRY_MIN_S"`
	DeliveryRetryMaxS   int `mapstructure:"DELIVERY_RETRY_MAX_S"`

	BreakerFailureThreshold int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerResetS           int `mapstructure:"BREAKER_RESET_S"`

	EnableMetrics bool   `mapstructure:"ENABLE_METRICS"`
	MetricsPort   string `mapstructure:"METRICS_PORT"`

	AllowPrivateDestinations bool `mapstructure:"ALLOW_PRIVATE_DESTINATIONS"`
	HTTPPort                 string `mapstructure:"HTTP_PORT"`
}

// setDefaults mirrors the numeric/bool defaults spec section 6 and
// section 4.4/4.5/4.2 name: 3 delivery attempts, 30s/300s retry
// window, 5-failure/60s breaker, late-ack always true, compute
// concurrency 1 (strict FIFO), delivery concurrency 4.
func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_HOST", "localhost")
	v.SetDefault("STORE_PORT", "6379")
	v.SetDefault("CELERY_DB_INDEX", 0)
	v.SetDefault("STATUS_DB_INDEX", 1)

	v.SetDefault("WEBHOOK_ALLOWLIST", "")
	v.SetDefault("WEBHOOK_HMAC_SECRET", "")

	v.SetDefault("COMPUTE_CONCURRENCY", 1)
	v.SetDefault("DELIVERY_CONCURRENCY", 4)
	v.SetDefault("PREFETCH_MULTIPLIER", 1)
	v.SetDefault("TASK_ACK_LATE", true)

	v.SetDefault("DELIVERY_MAX_ATTEMPTS", 3)
	v.SetDefault("DELIVERY_RETRY_MIN_S", 30)
	v.SetDefault("DELIVERY_RETRY_MAX_S", 300)

	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_RESET_S", 60)

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PORT", "9090")

	v.SetDefault("ALLOW_PRIVATE_DESTINATIONS", false)
	v.SetDefault("HTTP_PORT", "8080")
}

// GetConfig loads configuration from the environment. Unlike the
// teacher's GetConfig, a missing config file is not an error: every
// field has a default, and AutomaticEnv lets any deployment override
// them without maintaining a checked-in .env/toml file.
func GetConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &cfg, nil
}

// DeliveryRetryMin returns the delivery retry floor as a Duration.
func (c *Config) DeliveryRetryMin() time.Duration {
	return time.Duration(c.DeliveryRetryMinS) * time.Second
}

// DeliveryRetryMax returns the delivery retry ceiling as a Duration.
func (c *Config) DeliveryRetryMax() time.Duration {
	return time.Duration(c.DeliveryRetryMaxS) * time.Second
}

// BreakerResetTimeout returns the breaker reset window as a Duration.
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.BreakerResetS) * time.Second
}
