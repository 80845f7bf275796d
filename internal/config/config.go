package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/outreach-engine/internal/provider"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// RabbitMQURL enables the inbound reply consumer when set.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	EmailProvider      string `env:"EMAIL_PROVIDER,default=smtp"`
	EmailFrom          string `env:"EMAIL_FROM"`
	SMTPHost           string `env:"SMTP_HOST,default=smtp.gmail.com"`
	SMTPPort           int    `env:"SMTP_PORT,default=587"`
	SMTPUsername       string `env:"SMTP_USERNAME"`
	SMTPPassword       string `env:"SMTP_PASSWORD"`
	SMTPUseTLS         bool   `env:"SMTP_USE_TLS,default=true"`
	SMTPTimeoutSeconds int    `env:"SMTP_TIMEOUT_SECONDS,default=30"`
	WebhookURL         string `env:"WEBHOOK_URL"`

	AutoUnsubscribeOnRequest bool   `env:"AUTO_UNSUBSCRIBE_ON_REQUEST,default=true"`
	AutoClassifyResponses    bool   `env:"AUTO_CLASSIFY_RESPONSES,default=true"`
	Classifier               string `env:"CLASSIFIER,default=keyword"`

	TickIntervalSeconds int `env:"TICK_INTERVAL_SECONDS,default=60"`
	TickBatchLimit      int `env:"TICK_BATCH_LIMIT,default=0"`
	SendRateLimitPerSec int `env:"SEND_RATE_LIMIT_PER_SEC,default=10"`

	ReplyQueue    string `env:"REPLY_QUEUE,default=responses.inbound"`
	ReplyPrefetch int    `env:"REPLY_PREFETCH,default=8"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.APIPort <= 0 || c.APIPort > 65535:
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	case c.TickIntervalSeconds <= 0:
		return fmt.Errorf("TICK_INTERVAL_SECONDS must be positive")
	case c.TickBatchLimit < 0:
		return fmt.Errorf("TICK_BATCH_LIMIT must not be negative")
	case c.SendRateLimitPerSec <= 0:
		return fmt.Errorf("SEND_RATE_LIMIT_PER_SEC must be positive")
	case c.SMTPTimeoutSeconds <= 0:
		return fmt.Errorf("SMTP_TIMEOUT_SECONDS must be positive")
	case c.ReplyPrefetch <= 0:
		return fmt.Errorf("REPLY_PREFETCH must be positive")
	}
	return nil
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// ProviderConfig maps the EMAIL_*, SMTP_* and WEBHOOK_* settings onto the
// provider factory input.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Kind: c.EmailProvider,
		From: c.EmailFrom,
		SMTP: provider.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			UseTLS:   c.SMTPUseTLS,
			Timeout:  time.Duration(c.SMTPTimeoutSeconds) * time.Second,
		},
		WebhookURL: c.WebhookURL,
	}
}
