package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the outbound email delivery port.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// Message is a fully rendered email. Both bodies may be empty.
type Message struct {
	From     string
	To       string
	ToName   string
	Subject  string
	BodyText string
	BodyHTML string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient address is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
