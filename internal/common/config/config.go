// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main engine configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Revenue    RevenueConfig    `mapstructure:"revenue"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	ListenAddr  string `mapstructure:"listen_addr"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MonitoringConfig holds the cadences and windows of the background monitors.
// Intervals and timeouts are milliseconds, matching how deployment templates
// emit them.
type MonitoringConfig struct {
	StatusInterval     int `mapstructure:"status_interval"`
	RevenueInterval    int `mapstructure:"revenue_interval"`
	HealthInterval     int `mapstructure:"health_interval"`
	TransactionTimeout int `mapstructure:"transaction_timeout"`
	AuctionWindowHours int `mapstructure:"auction_window_hours"`
	SelectionHours     int `mapstructure:"selection_hours"`
	UrgencyHorizonMins int `mapstructure:"urgency_horizon_mins"`
	AlertCooldownMins  int `mapstructure:"alert_cooldown_mins"`
	ScanLimit          int `mapstructure:"scan_limit"`
}

// RevenueConfig holds the ledger constants.
type RevenueConfig struct {
	FeeCents           int64 `mapstructure:"fee_cents"` // fixed per-purchase fee
	PendingTimeoutMins int   `mapstructure:"pending_timeout_mins"`
	MaxRetries         int   `mapstructure:"max_retries"`
	RetryWindowHours   int   `mapstructure:"retry_window_hours"`
	AnomalyWindowDays  int   `mapstructure:"anomaly_window_days"`
}

// AlertsConfig holds the webhook side-channel settings.
type AlertsConfig struct {
	Channel        string `mapstructure:"channel"` // pg NOTIFY channel
	WebhookURL     string `mapstructure:"webhook_url"`
	WebhookToken   string `mapstructure:"webhook_token"`
	WebhookTimeout int    `mapstructure:"webhook_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func (m MonitoringConfig) StatusIntervalDuration() time.Duration {
	return time.Duration(m.StatusInterval) * time.Millisecond
}

func (m MonitoringConfig) RevenueIntervalDuration() time.Duration {
	return time.Duration(m.RevenueInterval) * time.Millisecond
}

func (m MonitoringConfig) HealthIntervalDuration() time.Duration {
	return time.Duration(m.HealthInterval) * time.Millisecond
}

// TransactionBudget bounds every transactional unit of work; a unit that does
// not finish inside the budget is rolled back, never left open.
func (m MonitoringConfig) TransactionBudget() time.Duration {
	return time.Duration(m.TransactionTimeout) * time.Millisecond
}

func (m MonitoringConfig) AuctionWindow() time.Duration {
	return time.Duration(m.AuctionWindowHours) * time.Hour
}

func (m MonitoringConfig) SelectionWindow() time.Duration {
	return time.Duration(m.SelectionHours) * time.Hour
}

func (m MonitoringConfig) UrgencyHorizon() time.Duration {
	return time.Duration(m.UrgencyHorizonMins) * time.Minute
}

func (m MonitoringConfig) AlertCooldown() time.Duration {
	return time.Duration(m.AlertCooldownMins) * time.Minute
}

func (r RevenueConfig) PendingTimeout() time.Duration {
	return time.Duration(r.PendingTimeoutMins) * time.Minute
}

func (r RevenueConfig) RetryWindow() time.Duration {
	return time.Duration(r.RetryWindowHours) * time.Hour
}

func (a AlertsConfig) WebhookTimeoutDuration() time.Duration {
	return time.Duration(a.WebhookTimeout) * time.Millisecond
}
