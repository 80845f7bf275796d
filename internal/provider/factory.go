package provider

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindSMTP     = "smtp"
	KindWebhook  = "webhook"
	KindSendGrid = "sendgrid"
	KindSES      = "ses"
)

// Config selects and configures the outbound provider.
type Config struct {
	Kind       string
	From       string
	SMTP       SMTPConfig
	WebhookURL string
}

// ValidateConfig reports the first missing or invalid setting for the
// selected provider kind.
func ValidateConfig(cfg Config) error {
	switch normalizeKind(cfg.Kind) {
	case KindSMTP:
		if strings.TrimSpace(cfg.SMTP.Host) == "" {
			return fmt.Errorf("SMTP_HOST is required for smtp provider")
		}
		if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
			return fmt.Errorf("SMTP_PORT must be between 1 and 65535")
		}
		if strings.TrimSpace(cfg.SMTP.Username) != "" && cfg.SMTP.Password == "" {
			return fmt.Errorf("SMTP_PASSWORD is required when SMTP_USERNAME is set")
		}
		if strings.TrimSpace(cfg.From) == "" && strings.TrimSpace(cfg.SMTP.Username) == "" {
			return fmt.Errorf("EMAIL_FROM or SMTP_USERNAME is required for smtp provider")
		}
		return nil
	case KindWebhook:
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return fmt.Errorf("WEBHOOK_URL is required for webhook provider")
		}
		return nil
	case KindSendGrid, KindSES:
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, normalizeKind(cfg.Kind))
	default:
		return fmt.Errorf("unknown email provider %q", cfg.Kind)
	}
}

// New builds the provider named by cfg.Kind.
func New(cfg Config) (Provider, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch normalizeKind(cfg.Kind) {
	case KindWebhook:
		return NewWebhookProvider(cfg.WebhookURL, cfg.From)
	default:
		smtpCfg := cfg.SMTP
		smtpCfg.From = cfg.From
		if smtpCfg.Timeout <= 0 {
			smtpCfg.Timeout = 30 * time.Second
		}
		return NewSMTPProvider(smtpCfg)
	}
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
