package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Store
	StorePath string

	// Persistence scheduler
	AutosaveInterval time.Duration
	SaveRetryLimit   int
	SaveRetryBackoff time.Duration

	// Business rules
	DuplicateWindow      time.Duration
	MaxTransactionAmount decimal.Decimal

	// Widget snapshot
	SnapshotDir    string
	SnapshotMaxAge time.Duration

	// Change notifications (optional; empty URL disables)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

func Load() *Config {
	cfg := &Config{
		StorePath: getEnv("STORE_PATH", "./data/budget.db"),

		AutosaveInterval: getEnvDuration("AUTOSAVE_INTERVAL", 30*time.Second),
		SaveRetryLimit:   getEnvInt("SAVE_RETRY_LIMIT", 3),
		SaveRetryBackoff: getEnvDuration("SAVE_RETRY_BACKOFF", 100*time.Millisecond),

		DuplicateWindow:      getEnvDuration("DUPLICATE_WINDOW", 60*time.Second),
		MaxTransactionAmount: getEnvDecimal("MAX_TRANSACTION_AMOUNT", decimal.NewFromInt(1_000_000)),

		SnapshotDir:    getEnv("SNAPSHOT_DIR", "./data/widget"),
		SnapshotMaxAge: getEnvDuration("SNAPSHOT_MAX_AGE", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "budget_changes"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.StorePath == "" {
		errors = append(errors, "store path cannot be empty")
	} else {
		dir := filepath.Dir(c.StorePath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create store directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AutosaveInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid autosave interval %v: must be at least 1 second", c.AutosaveInterval))
	} else if c.AutosaveInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid autosave interval %v: must be at most 24 hours", c.AutosaveInterval))
	}

	if c.SaveRetryLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid save retry limit %d: must be at least 1", c.SaveRetryLimit))
	} else if c.SaveRetryLimit > 10 {
		errors = append(errors, fmt.Sprintf("invalid save retry limit %d: must be at most 10", c.SaveRetryLimit))
	}

	if c.SaveRetryBackoff <= 0 {
		errors = append(errors, fmt.Sprintf("invalid save retry backoff %v: must be positive", c.SaveRetryBackoff))
	}

	if c.DuplicateWindow <= 0 {
		errors = append(errors, fmt.Sprintf("invalid duplicate window %v: must be positive", c.DuplicateWindow))
	}

	if !c.MaxTransactionAmount.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid max transaction amount %s: must be positive", c.MaxTransactionAmount))
	}

	if c.SnapshotDir == "" {
		errors = append(errors, "snapshot directory cannot be empty")
	}

	if c.SnapshotMaxAge <= 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot max age %v: must be positive", c.SnapshotMaxAge))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// NotifyEnabled reports whether change notifications are configured.
func (c *Config) NotifyEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
