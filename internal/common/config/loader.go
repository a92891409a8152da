// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DB_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Alerts.WebhookURL == "" {
		if val := os.Getenv("MONITORING_WEBHOOK_URL"); val != "" {
			cfg.Alerts.WebhookURL = val
		}
	}
	if cfg.Alerts.WebhookToken == "" {
		if val := os.Getenv("MONITORING_WEBHOOK_TOKEN"); val != "" {
			cfg.Alerts.WebhookToken = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8080"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Monitoring defaults: 60s status cadence, 5m revenue cadence.
	if cfg.Monitoring.StatusInterval == 0 {
		cfg.Monitoring.StatusInterval = 60000
	}
	if cfg.Monitoring.RevenueInterval == 0 {
		cfg.Monitoring.RevenueInterval = 300000
	}
	if cfg.Monitoring.HealthInterval == 0 {
		cfg.Monitoring.HealthInterval = 120000
	}
	if cfg.Monitoring.TransactionTimeout == 0 {
		cfg.Monitoring.TransactionTimeout = 5000
	}
	if cfg.Monitoring.AuctionWindowHours == 0 {
		cfg.Monitoring.AuctionWindowHours = 48
	}
	if cfg.Monitoring.SelectionHours == 0 {
		cfg.Monitoring.SelectionHours = 24
	}
	if cfg.Monitoring.UrgencyHorizonMins == 0 {
		cfg.Monitoring.UrgencyHorizonMins = 120
	}
	if cfg.Monitoring.AlertCooldownMins == 0 {
		cfg.Monitoring.AlertCooldownMins = 360
	}
	if cfg.Monitoring.ScanLimit == 0 {
		cfg.Monitoring.ScanLimit = 500
	}

	// Revenue defaults
	if cfg.Revenue.FeeCents == 0 {
		cfg.Revenue.FeeCents = 50000
	}
	if cfg.Revenue.PendingTimeoutMins == 0 {
		cfg.Revenue.PendingTimeoutMins = 60
	}
	if cfg.Revenue.MaxRetries == 0 {
		cfg.Revenue.MaxRetries = 3
	}
	if cfg.Revenue.RetryWindowHours == 0 {
		cfg.Revenue.RetryWindowHours = 24
	}
	if cfg.Revenue.AnomalyWindowDays == 0 {
		cfg.Revenue.AnomalyWindowDays = 30
	}

	// Alerts defaults
	if cfg.Alerts.Channel == "" {
		cfg.Alerts.Channel = "system_alerts"
	}
	if cfg.Alerts.WebhookTimeout == 0 {
		cfg.Alerts.WebhookTimeout = 10000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Revenue.FeeCents < 0 {
		return fmt.Errorf("revenue.fee_cents must not be negative")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
