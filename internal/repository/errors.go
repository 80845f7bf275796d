package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

// translateError maps storage-level failures onto domain sentinels.
func translateError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, entity)
	}
	if isUniqueViolationError(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrDuplicateEntity, entity, err)
	}
	return err
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
