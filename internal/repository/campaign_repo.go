package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Page     int
	PageSize int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params ListParams) ([]domain.Campaign, int64, error)
	GetStepByID(ctx context.Context, id string) (*domain.Step, error)
	GetStepByPosition(ctx context.Context, campaignID string, position int) (*domain.Step, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

// Create inserts the campaign together with its steps. Either all rows are
// written or none are.
func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c == nil {
		return nil
	}

	model := campaignModelFromDomain(c)
	steps := make([]StepModel, 0, len(c.Steps))
	for i := range c.Steps {
		steps = append(steps, *stepModelFromDomain(&c.Steps[i]))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(steps) == 0 {
			return nil
		}
		return tx.Create(&steps).Error
	})
	if err != nil {
		return translateError(err, "campaign")
	}

	*c = *campaignModelToDomain(model, steps)
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var steps []StepModel
	err = r.db.WithContext(ctx).
		Where("campaign_id = ?", id).
		Order("position ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}

	return campaignModelToDomain(&model, steps), nil
}

func (r *GormCampaignRepo) List(ctx context.Context, params ListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	if len(models) == 0 {
		return []domain.Campaign{}, total, nil
	}

	ids := make([]string, 0, len(models))
	for i := range models {
		ids = append(ids, models[i].ID)
	}

	var steps []StepModel
	err = r.db.WithContext(ctx).
		Where("campaign_id IN ?", ids).
		Order("position ASC").
		Find(&steps).Error
	if err != nil {
		return nil, 0, err
	}

	stepsByCampaign := make(map[string][]StepModel, len(models))
	for _, s := range steps {
		stepsByCampaign[s.CampaignID] = append(stepsByCampaign[s.CampaignID], s)
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i], stepsByCampaign[models[i].ID]))
	}

	return campaigns, total, nil
}

func (r *GormCampaignRepo) GetStepByID(ctx context.Context, id string) (*domain.Step, error) {
	var model StepModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}

func (r *GormCampaignRepo) GetStepByPosition(ctx context.Context, campaignID string, position int) (*domain.Step, error) {
	var model StepModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND position = ?", campaignID, position).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}
