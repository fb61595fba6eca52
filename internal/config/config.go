// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/trustcore/internal/middleware"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	ProcessorAddress string `env:"PROCESSOR_ADDRESS"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`

	ProcessorAPIKey  string        `env:"PROCESSOR_API_KEY"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`

	OTPSecret string        `env:"OTP_SECRET"`
	OTPTTL    time.Duration `env:"OTP_TTL" envDefault:"10m"`
	RedisURL  string        `env:"REDIS_URL"`
	DevMode   bool          `env:"DEV_MODE"`

	SMTP SMTP `envPrefix:"SMTP_"`

	RefundReasonStrict bool `env:"REFUND_REASON_STRICT" envDefault:"false"`

	VerifyRateRPS   float64  `env:"VERIFY_RATE_RPS" envDefault:"1"`
	VerifyRateBurst int      `env:"VERIFY_RATE_BURST" envDefault:"5"`
	TrustedProxies  []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// SMTP содержит параметры почтового сервера. Пустой Host отключает отправку почты.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProcessorAddress := cfg.ProcessorAddress
	envWebhookSecret := cfg.WebhookSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store if empty")
	flag.StringVar(&cfg.ProcessorAddress, "p", "", "payment processor address, sandbox if empty")
	flag.StringVar(&cfg.WebhookSecret, "w", "", "processor webhook signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProcessorAddress != "" {
		cfg.ProcessorAddress = envProcessorAddress
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ProcessorAddress != "" && c.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required with an external processor")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.WebhookTolerance <= 0 {
		return fmt.Errorf("WEBHOOK_TOLERANCE must be positive")
	}
	if c.VerifyRateRPS <= 0 || c.VerifyRateBurst < 1 {
		return fmt.Errorf("verify rate limit must be positive")
	}
	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return nil
}
