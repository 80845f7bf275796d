package domain

import (
	"fmt"
	"strings"
	"time"
)

// Classification labels an inbound response.
type Classification string

const (
	ClassificationPending      Classification = "PENDING"
	ClassificationPositive     Classification = "POSITIVE"
	ClassificationNegative     Classification = "NEGATIVE"
	ClassificationOpened       Classification = "OPENED"
	ClassificationClicked      Classification = "CLICKED"
	ClassificationUnopened     Classification = "UNOPENED"
	ClassificationUnclicked    Classification = "UNCLICKED"
	ClassificationUnsubscribed Classification = "UNSUBSCRIBED"
	ClassificationFailed       Classification = "FAILED"
)

func (c Classification) String() string { return string(c) }

func (c Classification) IsValid() bool {
	switch c {
	case ClassificationPending, ClassificationPositive, ClassificationNegative,
		ClassificationOpened, ClassificationClicked, ClassificationUnopened,
		ClassificationUnclicked, ClassificationUnsubscribed, ClassificationFailed:
		return true
	}
	return false
}

func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid classification %q", ErrValidation, s)
	}
	return c, nil
}

// Response is an inbound reply. Responses are append-only.
type Response struct {
	ID             string
	RecipientID    string
	DeliveryID     *string
	Content        string
	Classification Classification
	CreatedAt      time.Time
}
