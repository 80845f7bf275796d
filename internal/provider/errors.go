package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-smtp"
)

// ErrUnsupportedProvider is returned for provider kinds that are recognised
// but have no delivery implementation.
var ErrUnsupportedProvider = errors.New("email provider not supported")

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure is likely to clear up on its own. A
// delivery is failed either way; the distinction only feeds logs and metrics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// smtpFailure wraps an SMTP command error, classifying 4xx replies as
// transient and 5xx replies as permanent.
func smtpFailure(stage string, err error) error {
	pe := &ProviderError{
		Message: stage,
		Cause:   err,
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		pe.StatusCode = smtpErr.Code
		pe.Transient = smtpErr.Temporary()
		return pe
	}

	// Connection and I/O errors.
	pe.Transient = !errors.Is(err, context.Canceled)
	return pe
}
