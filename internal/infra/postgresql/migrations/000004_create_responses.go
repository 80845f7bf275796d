package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"gorm.io/gorm"
)

func createResponsesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_responses",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ResponseModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ResponseModel{})
		},
	}
}
