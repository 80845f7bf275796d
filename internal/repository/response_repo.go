package repository

import (
	"context"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type ClassificationCount struct {
	Classification domain.Classification `gorm:"column:classification"`
	Count          int64                 `gorm:"column:count"`
}

type ResponseRepository interface {
	Create(ctx context.Context, r *domain.Response) error
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.Response, error)
	CountByClassification(ctx context.Context, campaignID string) ([]ClassificationCount, error)
}

type GormResponseRepo struct {
	db *gorm.DB
}

func NewGormResponseRepo(db *gorm.DB) *GormResponseRepo {
	return &GormResponseRepo{db: db}
}

func (r *GormResponseRepo) Create(ctx context.Context, resp *domain.Response) error {
	model := responseModelFromDomain(resp)
	if model == nil {
		return nil
	}
	if !model.Classification.IsValid() {
		return domain.ErrValidation
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "response")
	}
	*resp = *responseModelToDomain(model)
	return nil
}

func (r *GormResponseRepo) ListByRecipient(ctx context.Context, recipientID string) ([]domain.Response, error) {
	var models []ResponseModel
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	responses := make([]domain.Response, 0, len(models))
	for i := range models {
		responses = append(responses, *responseModelToDomain(&models[i]))
	}
	return responses, nil
}

func (r *GormResponseRepo) CountByClassification(ctx context.Context, campaignID string) ([]ClassificationCount, error) {
	var counts []ClassificationCount
	err := r.db.WithContext(ctx).
		Model(&ResponseModel{}).
		Select("responses.classification AS classification, COUNT(*) AS count").
		Joins("JOIN recipients ON recipients.id = responses.recipient_id").
		Where("recipients.campaign_id = ?", campaignID).
		Group("responses.classification").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
