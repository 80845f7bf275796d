// Package content turns campaign step templates into concrete email bodies.
package content

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/k3a/html2text"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// RecipientVars returns the recipient's template variables with "name" and
// "email" filled in when the recipient did not provide them.
func RecipientVars(r domain.Recipient) map[string]any {
	vars := make(map[string]any, len(r.Vars)+2)
	for k, v := range r.Vars {
		vars[k] = v
	}
	if _, ok := vars["name"]; !ok {
		vars["name"] = r.DisplayName()
	}
	if _, ok := vars["email"]; !ok {
		vars["email"] = r.Email
	}
	return vars
}

// Render substitutes {{ key }} placeholders from vars. Placeholders without a
// matching key are left as written.
func Render(tmpl string, vars map[string]any) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[key]
		if !ok {
			return match
		}
		if value == nil {
			return ""
		}
		return fmt.Sprint(value)
	})
}

// HTMLToText derives a plain-text body from HTML. Trailing spaces are
// trimmed from every line and runs of blank lines collapse to one.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	text := html2text.HTML2Text(html)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Email is a step rendered for one recipient.
type Email struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Compose renders the step for the recipient. A non-empty text body is used
// as given, even if it is only whitespace; otherwise the text body is derived
// from the rendered HTML.
func Compose(step domain.Step, recipient domain.Recipient) Email {
	vars := RecipientVars(recipient)

	email := Email{Subject: Render(step.Subject, vars)}
	if step.BodyHTML != nil {
		email.BodyHTML = Render(*step.BodyHTML, vars)
	}
	if step.BodyText != nil && *step.BodyText != "" {
		email.BodyText = Render(*step.BodyText, vars)
	} else if email.BodyHTML != "" {
		email.BodyText = HTMLToText(email.BodyHTML)
	}

	return email
}
