package queue

import (
	"fmt"
	"strings"
)

// ResponseMessage is the broker payload for an inbound recipient reply.
type ResponseMessage struct {
	RecipientEmail string  `json:"recipientEmail"`
	Content        string  `json:"content"`
	DeliveryID     *string `json:"deliveryId,omitempty"`
}

func (m ResponseMessage) Validate() error {
	if strings.TrimSpace(m.RecipientEmail) == "" {
		return fmt.Errorf("recipientEmail is required")
	}
	if m.DeliveryID != nil && strings.TrimSpace(*m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId must not be blank")
	}
	return nil
}
