// Package leads reads recipient lists for bulk import.
package leads

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/service"
)

// Result holds the parsed recipients and the addresses rejected as invalid.
type Result struct {
	Recipients []service.NewRecipient
	Invalid    []string
}

// ParseCSV reads one lead per row: the email in the first column and an
// optional display name in the second. A leading "email" header row and
// blank rows are ignored. Addresses repeated within the file are kept once.
func ParseCSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var result Result
	seen := make(map[string]struct{})
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read csv row %d: %w", row+1, err)
		}
		if len(record) == 0 {
			continue
		}

		email := domain.NormalizeEmail(record[0])
		if email == "" {
			continue
		}
		if row == 0 && strings.EqualFold(email, "email") {
			continue
		}
		if err := domain.ValidateEmail(email); err != nil {
			result.Invalid = append(result.Invalid, email)
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		lead := service.NewRecipient{Email: email}
		if len(record) > 1 {
			if name := strings.TrimSpace(record[1]); name != "" {
				lead.Name = &name
			}
		}
		result.Recipients = append(result.Recipients, lead)
	}

	return result, nil
}
