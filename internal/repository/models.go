package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:varchar(200);not null"`
	CreatedAt time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// StepModel is the persistence model for campaign_steps.
type StepModel struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	CampaignID   string  `gorm:"type:uuid;not null;uniqueIndex:uq_steps_campaign_position,priority:1"`
	Position     int     `gorm:"not null;uniqueIndex:uq_steps_campaign_position,priority:2;check:chk_steps_position,position >= 0"`
	DelayMinutes int     `gorm:"not null;default:0;check:chk_steps_delay,delay_minutes >= 0"`
	Subject      string  `gorm:"type:text;not null"`
	BodyText     *string `gorm:"column:body_text;type:text"`
	BodyHTML     *string `gorm:"column:body_html;type:text"`
}

func (StepModel) TableName() string {
	return "campaign_steps"
}

// RecipientModel is the persistence model for recipients.
type RecipientModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	CampaignID string  `gorm:"type:uuid;not null;uniqueIndex:uq_recipients_campaign_email,priority:1"`
	Email      string  `gorm:"type:varchar(320);not null;uniqueIndex:uq_recipients_campaign_email,priority:2;index:idx_recipients_email"`
	Name       *string `gorm:"type:varchar(200)"`
	VarsJSON   *string `gorm:"column:vars_json;type:text"`
	Suppressed bool    `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

// DeliveryModel is the persistence model for deliveries.
type DeliveryModel struct {
	ID          string                `gorm:"type:uuid;primaryKey"`
	RecipientID string                `gorm:"type:uuid;not null;uniqueIndex:uq_deliveries_recipient_step,priority:1"`
	StepID      string                `gorm:"type:uuid;not null;uniqueIndex:uq_deliveries_recipient_step,priority:2;index:idx_deliveries_step_id"`
	Status      domain.DeliveryStatus `gorm:"type:varchar(10);not null;index:idx_deliveries_status;check:chk_deliveries_status,status IN ('PENDING','SENT','FAILED')"`
	LastError   *string               `gorm:"type:text"`
	SentAt      *time.Time
	MessageID   *string `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

// ResponseModel is the persistence model for responses.
type ResponseModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	RecipientID    string                `gorm:"type:uuid;not null;index:idx_responses_recipient_id"`
	DeliveryID     *string               `gorm:"type:uuid;index:idx_responses_delivery_id"`
	Content        string                `gorm:"type:text;not null"`
	Classification domain.Classification `gorm:"type:varchar(20);not null;check:chk_responses_classification,classification IN ('PENDING','POSITIVE','NEGATIVE','OPENED','CLICKED','UNOPENED','UNCLICKED','UNSUBSCRIBED','FAILED')"`
	CreatedAt      time.Time
}

func (ResponseModel) TableName() string {
	return "responses"
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:        c.ID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel, steps []StepModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	c := &domain.Campaign{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		Steps:     make([]domain.Step, 0, len(steps)),
	}
	for i := range steps {
		c.Steps = append(c.Steps, *stepModelToDomain(&steps[i]))
	}
	return c
}

func stepModelFromDomain(s *domain.Step) *StepModel {
	if s == nil {
		return nil
	}

	return &StepModel{
		ID:           s.ID,
		CampaignID:   s.CampaignID,
		Position:     s.Position,
		DelayMinutes: s.DelayMinutes,
		Subject:      s.Subject,
		BodyText:     s.BodyText,
		BodyHTML:     s.BodyHTML,
	}
}

func stepModelToDomain(m *StepModel) *domain.Step {
	if m == nil {
		return nil
	}

	return &domain.Step{
		ID:           m.ID,
		CampaignID:   m.CampaignID,
		Position:     m.Position,
		DelayMinutes: m.DelayMinutes,
		Subject:      m.Subject,
		BodyText:     m.BodyText,
		BodyHTML:     m.BodyHTML,
	}
}

func recipientModelFromDomain(r *domain.Recipient) (*RecipientModel, error) {
	if r == nil {
		return nil, nil
	}

	var varsJSON *string
	if len(r.Vars) > 0 {
		raw, err := json.Marshal(r.Vars)
		if err != nil {
			return nil, fmt.Errorf("%w: recipient vars are not JSON encodable: %v", domain.ErrValidation, err)
		}
		value := string(raw)
		varsJSON = &value
	}

	return &RecipientModel{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Email:      r.Email,
		Name:       r.Name,
		VarsJSON:   varsJSON,
		Suppressed: r.Suppressed,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	r := &domain.Recipient{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Email:      m.Email,
		Name:       m.Name,
		Suppressed: m.Suppressed,
		CreatedAt:  m.CreatedAt,
	}

	// Unparseable vars are dropped; rendering falls back to the defaults.
	if m.VarsJSON != nil && *m.VarsJSON != "" {
		var vars map[string]any
		if err := json.Unmarshal([]byte(*m.VarsJSON), &vars); err == nil {
			r.Vars = vars
		}
	}

	return r
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:          d.ID,
		RecipientID: d.RecipientID,
		StepID:      d.StepID,
		Status:      d.Status,
		LastError:   d.LastError,
		SentAt:      d.SentAt,
		MessageID:   d.MessageID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		StepID:      m.StepID,
		Status:      m.Status,
		LastError:   m.LastError,
		SentAt:      m.SentAt,
		MessageID:   m.MessageID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func responseModelFromDomain(r *domain.Response) *ResponseModel {
	if r == nil {
		return nil
	}

	return &ResponseModel{
		ID:             r.ID,
		RecipientID:    r.RecipientID,
		DeliveryID:     r.DeliveryID,
		Content:        r.Content,
		Classification: r.Classification,
		CreatedAt:      r.CreatedAt,
	}
}

func responseModelToDomain(m *ResponseModel) *domain.Response {
	if m == nil {
		return nil
	}

	return &domain.Response{
		ID:             m.ID,
		RecipientID:    m.RecipientID,
		DeliveryID:     m.DeliveryID,
		Content:        m.Content,
		Classification: m.Classification,
		CreatedAt:      m.CreatedAt,
	}
}
