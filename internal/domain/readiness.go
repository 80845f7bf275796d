package domain

import "time"

// IsDue reports whether a pending delivery may be sent at now.
//
// Position 0 is gated on the recipient's creation time. Any later position is
// gated on the actual send time of the predecessor delivery (the delivery for
// the same recipient at position-1); a missing or unsent predecessor means the
// chain has not progressed and the step is never due.
func IsDue(delivery Delivery, step Step, recipient Recipient, predecessor *Delivery, now time.Time) bool {
	if recipient.Suppressed {
		return false
	}
	if delivery.Status != DeliveryStatusPending {
		return false
	}

	if step.Position == 0 {
		return !now.Before(recipient.CreatedAt.Add(step.Delay()))
	}

	if predecessor == nil || predecessor.Status != DeliveryStatusSent || predecessor.SentAt == nil {
		return false
	}

	return !now.Before(predecessor.SentAt.Add(step.Delay()))
}
