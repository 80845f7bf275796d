package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the per-entity repositories bound to one connection
// or one transaction.
type Repositories interface {
	Campaigns() CampaignRepository
	Recipients() RecipientRepository
	Deliveries() DeliveryRepository
	Responses() ResponseRepository
}

// Store is the unit-of-work entry point. Every callback passed to
// Transaction sees repositories bound to a single database transaction; the
// transaction commits when the callback returns nil and rolls back otherwise.
type Store interface {
	Repositories
	Transaction(ctx context.Context, fn func(tx Repositories) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Campaigns() CampaignRepository {
	return NewGormCampaignRepo(s.db)
}

func (s *GormStore) Recipients() RecipientRepository {
	return NewGormRecipientRepo(s.db)
}

func (s *GormStore) Deliveries() DeliveryRepository {
	return NewGormDeliveryRepo(s.db)
}

func (s *GormStore) Responses() ResponseRepository {
	return NewGormResponseRepo(s.db)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
