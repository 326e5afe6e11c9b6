package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"quadra/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Payment    PaymentConfig    `yaml:"payment"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Settlement SettlementConfig `yaml:"settlement"`
	Events     EventsConfig     `yaml:"events"`
	Reports    ReportsConfig    `yaml:"reports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	PaymentGracePeriod time.Duration `yaml:"payment_grace_period"`
	RefundWindowHours  float64       `yaml:"refund_window_hours"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

type PaymentConfig struct {
	Provider        string               `yaml:"provider"` // mercadopago | stripe
	BaseURL         string               `yaml:"base_url"`
	AccessToken     string               `yaml:"access_token"`
	Currency        string               `yaml:"currency"`
	NotificationURL string               `yaml:"notification_url"`
	SuccessURL      string               `yaml:"success_url"`
	CancelURL       string               `yaml:"cancel_url"`
	Timeout         time.Duration        `yaml:"timeout"`
	Breaker         CircuitBreakerConfig `yaml:"breaker"`
}

type CircuitBreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	FailureRatio float64       `yaml:"failure_ratio"`
	MinRequests  uint32        `yaml:"min_requests"`
}

type SchedulerConfig struct {
	Backend      string        `yaml:"backend"` // redis | memory
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SettlementConfig struct {
	FeeRateBasisPoints int64             `yaml:"fee_rate_bp"`
	Trigger            string            `yaml:"trigger"` // after_play | on_confirm
	ScanInterval       time.Duration     `yaml:"scan_interval"`
	Retry              RetryPolicyConfig `yaml:"retry"`
}

type RetryPolicyConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type ReportsConfig struct {
	Path string `yaml:"path"`
}

const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"

	TriggerAfterPlay = "after_play"
	TriggerOnConfirm = "on_confirm"
)

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Payment.Provider {
	case ProviderMercadoPago, ProviderStripe:
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}
	if c.Payment.AccessToken == "" {
		return errors.New("payment access token is required")
	}

	if c.API.Auth.Enabled && c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required when auth is enabled")
	}

	if c.Settlement.FeeRateBasisPoints < 0 || c.Settlement.FeeRateBasisPoints > 10000 {
		return fmt.Errorf("settlement.fee_rate_bp must be within 0..10000, got %d", c.Settlement.FeeRateBasisPoints)
	}
	switch c.Settlement.Trigger {
	case TriggerAfterPlay, TriggerOnConfirm:
	default:
		return fmt.Errorf("unknown settlement trigger %q", c.Settlement.Trigger)
	}

	if c.Booking.RefundWindowHours < 0 {
		return errors.New("booking.refund_window_hours must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "quadra"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.PaymentGracePeriod == 0 {
		c.Booking.PaymentGracePeriod = models.DefaultPaymentGracePeriod
	}
	if c.Booking.RefundWindowHours == 0 {
		c.Booking.RefundWindowHours = models.DefaultRefundWindowHours
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = time.Minute
	}

	c.Payment.Provider = strings.ToLower(strings.TrimSpace(c.Payment.Provider))
	if c.Payment.Provider == "" {
		c.Payment.Provider = ProviderMercadoPago
	}
	if c.Payment.BaseURL == "" && c.Payment.Provider == ProviderMercadoPago {
		c.Payment.BaseURL = "https://api.mercadopago.com"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "BRL"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}
	if c.Payment.Breaker.MaxRequests == 0 {
		c.Payment.Breaker.MaxRequests = 3
	}
	if c.Payment.Breaker.Interval == 0 {
		c.Payment.Breaker.Interval = time.Minute
	}
	if c.Payment.Breaker.Timeout == 0 {
		c.Payment.Breaker.Timeout = 30 * time.Second
	}
	if c.Payment.Breaker.FailureRatio == 0 {
		c.Payment.Breaker.FailureRatio = 0.6
	}
	if c.Payment.Breaker.MinRequests == 0 {
		c.Payment.Breaker.MinRequests = 5
	}

	if c.Scheduler.Backend == "" {
		c.Scheduler.Backend = "redis"
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = time.Second
	}

	if c.Settlement.FeeRateBasisPoints == 0 {
		c.Settlement.FeeRateBasisPoints = models.DefaultFeeRateBasisPoints
	}
	if c.Settlement.Trigger == "" {
		c.Settlement.Trigger = TriggerAfterPlay
	}
	if c.Settlement.ScanInterval == 0 {
		c.Settlement.ScanInterval = time.Hour
	}
	if c.Settlement.Retry.MaxRetries == 0 {
		c.Settlement.Retry.MaxRetries = 5
	}
	if c.Settlement.Retry.InitialDelay == 0 {
		c.Settlement.Retry.InitialDelay = 30 * time.Second
	}
	if c.Settlement.Retry.MaxDelay == 0 {
		c.Settlement.Retry.MaxDelay = 30 * time.Minute
	}
	if c.Settlement.Retry.BackoffFactor == 0 {
		c.Settlement.Retry.BackoffFactor = 2
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "quadra.events"
	}
	if c.Reports.Path == "" {
		c.Reports.Path = "reports"
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}
