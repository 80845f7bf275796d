package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the lifecycle state of a delivery. SENT and FAILED are terminal.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// ReasonUnsubscribed is recorded on deliveries cancelled by an unsubscribe request.
const ReasonUnsubscribed = "Recipient unsubscribed"

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusFailed:
		return true
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// Delivery is one recipient's attempt at one step. At most one exists per
// (recipient, step) pair.
type Delivery struct {
	ID          string
	StepID      string
	RecipientID string
	Status      DeliveryStatus
	LastError   *string
	SentAt      *time.Time
	MessageID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
