package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// Recipient is a campaign member. Once Suppressed is set no further delivery
// for the recipient may transition into SENT.
type Recipient struct {
	ID         string
	CampaignID string
	Email      string
	Name       *string
	Vars       map[string]any
	Suppressed bool
	CreatedAt  time.Time
}

// DisplayName returns the recipient name, falling back to the local part of
// the email address.
func (r Recipient) DisplayName() string {
	if r.Name != nil && strings.TrimSpace(*r.Name) != "" {
		return strings.TrimSpace(*r.Name)
	}
	local, _, _ := strings.Cut(r.Email, "@")
	return local
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return nil
}
