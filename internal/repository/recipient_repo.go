package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type RecipientCounts struct {
	Total      int64
	Suppressed int64
}

type RecipientRepository interface {
	Create(ctx context.Context, r *domain.Recipient) error
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)
	FindByEmail(ctx context.Context, email string) ([]domain.Recipient, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.Recipient, error)
	SetSuppressed(ctx context.Context, id string) error
	CountByCampaign(ctx context.Context, campaignID string) (RecipientCounts, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

// Create inserts a recipient. A second recipient with the same email in the
// same campaign yields domain.ErrDuplicateEntity and leaves any enclosing
// transaction usable.
func (r *GormRecipientRepo) Create(ctx context.Context, rec *domain.Recipient) error {
	model, err := recipientModelFromDomain(rec)
	if err != nil {
		return err
	}
	if model == nil {
		return nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return translateError(err, "recipient")
	}

	*rec = *recipientModelToDomain(model)
	return nil
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

// FindByEmail returns every recipient with the address across all campaigns,
// oldest first.
func (r *GormRecipientRepo) FindByEmail(ctx context.Context, email string) ([]domain.Recipient, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return recipientsToDomain(models), nil
}

func (r *GormRecipientRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return recipientsToDomain(models), nil
}

func (r *GormRecipientRepo) SetSuppressed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", id).
		Update("suppressed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecipientRepo) CountByCampaign(ctx context.Context, campaignID string) (RecipientCounts, error) {
	var counts RecipientCounts
	if err := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("campaign_id = ?", campaignID).
		Count(&counts.Total).Error; err != nil {
		return RecipientCounts{}, err
	}
	if err := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("campaign_id = ? AND suppressed = ?", campaignID, true).
		Count(&counts.Suppressed).Error; err != nil {
		return RecipientCounts{}, err
	}
	return counts, nil
}

func recipientsToDomain(models []RecipientModel) []domain.Recipient {
	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients
}
