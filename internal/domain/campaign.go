package domain

import (
	"fmt"
	"strings"
	"time"
)

// Campaign owns an ordered sequence of steps and a set of recipients.
type Campaign struct {
	ID        string
	Name      string
	Steps     []Step
	CreatedAt time.Time
}

// Step is one message of a drip sequence. DelayMinutes is the minimum time
// after the triggering event (recipient creation for position 0, the
// predecessor's send time otherwise) before the step may fire.
type Step struct {
	ID           string
	CampaignID   string
	Position     int
	DelayMinutes int
	Subject      string
	BodyText     *string
	BodyHTML     *string
}

func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

func (s *Step) Validate() error {
	if s.Position < 0 {
		return fmt.Errorf("%w: step position must be >= 0 (got %d)", ErrValidation, s.Position)
	}
	if s.DelayMinutes < 0 {
		return fmt.Errorf("%w: step delay must be >= 0 (got %d)", ErrValidation, s.DelayMinutes)
	}
	if strings.TrimSpace(s.Subject) == "" {
		return fmt.Errorf("%w: step %d subject is required", ErrValidation, s.Position)
	}
	return nil
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}

	seen := make(map[int]struct{}, len(c.Steps))
	for i := range c.Steps {
		if err := c.Steps[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Steps[i].Position]; dup {
			return fmt.Errorf("%w: duplicate step position %d", ErrValidation, c.Steps[i].Position)
		}
		seen[c.Steps[i].Position] = struct{}{}
	}

	return nil
}
