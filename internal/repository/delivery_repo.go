package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingParams narrows a pending-delivery scan. A nil CampaignID scans all
// campaigns; a Limit of zero or less returns every pending delivery. After
// resumes the scan past a previously returned delivery.
type PendingParams struct {
	CampaignID *string
	Limit      int
	After      *PendingCursor
}

// PendingCursor is a position in the (created_at, id) scan order.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that resumes a scan after d.
func CursorAfter(d domain.Delivery) *PendingCursor {
	return &PendingCursor{CreatedAt: d.CreatedAt, ID: d.ID}
}

type StatusCount struct {
	Status domain.DeliveryStatus `gorm:"column:status"`
	Count  int64                 `gorm:"column:count"`
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	GetByRecipientAndStep(ctx context.Context, recipientID, stepID string) (*domain.Delivery, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.Delivery, error)
	ListPending(ctx context.Context, params PendingParams) ([]domain.Delivery, error)
	LockPending(ctx context.Context, id string) (*domain.Delivery, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, messageID *string) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
	FailPendingForRecipient(ctx context.Context, recipientID, reason string, at time.Time) (int64, error)
	CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// Create inserts a delivery. An existing delivery for the same recipient and
// step yields domain.ErrDuplicateEntity and leaves any enclosing transaction
// usable.
func (r *GormDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	model := deliveryModelFromDomain(d)
	if model == nil {
		return nil
	}
	if !model.Status.IsValid() {
		return domain.ErrValidation
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return translateError(err, "delivery")
	}

	*d = *deliveryModelToDomain(model)
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByRecipientAndStep(ctx context.Context, recipientID, stepID string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND step_id = ?", recipientID, stepID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) ListByRecipient(ctx context.Context, recipientID string) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveriesToDomain(models), nil
}

func (r *GormDeliveryRepo) ListPending(ctx context.Context, params PendingParams) ([]domain.Delivery, error) {
	query := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("deliveries.status = ?", domain.DeliveryStatusPending)

	if params.CampaignID != nil {
		query = query.
			Joins("JOIN recipients ON recipients.id = deliveries.recipient_id").
			Where("recipients.campaign_id = ?", *params.CampaignID)
	}
	if params.After != nil {
		query = query.Where(
			"deliveries.created_at > ? OR (deliveries.created_at = ? AND deliveries.id > ?)",
			params.After.CreatedAt, params.After.CreatedAt, params.After.ID,
		)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var models []DeliveryModel
	err := query.
		Select("deliveries.*").
		Order("deliveries.created_at ASC, deliveries.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveriesToDomain(models), nil
}

// LockPending takes a row lock on a pending delivery for the lifetime of the
// enclosing transaction. Rows already locked by another worker are skipped.
// It returns nil, nil when the delivery is locked elsewhere or is no longer
// pending.
func (r *GormDeliveryRepo) LockPending(ctx context.Context, id string) (*domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusPending).
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return deliveryModelToDomain(&models[0]), nil
}

func (r *GormDeliveryRepo) MarkSent(ctx context.Context, id string, sentAt time.Time, messageID *string) error {
	return r.transitionPending(ctx, id, map[string]any{
		"status":     domain.DeliveryStatusSent,
		"sent_at":    sentAt,
		"message_id": messageID,
		"last_error": nil,
		"updated_at": sentAt,
	})
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	return r.transitionPending(ctx, id, map[string]any{
		"status":     domain.DeliveryStatusFailed,
		"last_error": reason,
		"updated_at": at,
	})
}

// transitionPending applies updates only while the delivery is still pending,
// so a terminal delivery is never rewritten.
func (r *GormDeliveryRepo) transitionPending(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// FailPendingForRecipient moves every pending delivery of the recipient to
// FAILED with reason and returns how many were moved.
func (r *GormDeliveryRepo) FailPendingForRecipient(ctx context.Context, recipientID, reason string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("recipient_id = ? AND status = ?", recipientID, domain.DeliveryStatusPending).
		Updates(map[string]any{
			"status":     domain.DeliveryStatusFailed,
			"last_error": reason,
			"updated_at": at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("deliveries.status AS status, COUNT(*) AS count").
		Joins("JOIN recipients ON recipients.id = deliveries.recipient_id").
		Where("recipients.campaign_id = ?", campaignID).
		Group("deliveries.status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func deliveriesToDomain(models []DeliveryModel) []domain.Delivery {
	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries
}
