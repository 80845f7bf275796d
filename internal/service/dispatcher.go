package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/content"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/provider"
	"github.com/kursadbilgin/outreach-engine/internal/ratelimit"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

// Dispatcher renders one step for one recipient, hands it to the provider
// and records the terminal outcome on the delivery.
type Dispatcher struct {
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	from        string
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(
	p provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	from string,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		provider:    p,
		rateLimiter: rateLimiter,
		from:        strings.TrimSpace(from),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// Dispatch sends the delivery and writes SENT or FAILED through tx. A
// provider failure is recorded on the delivery and is not returned; only
// store and rate limiter errors are, so the caller can roll back and leave
// the delivery pending.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tx repository.Repositories,
	delivery domain.Delivery,
	step domain.Step,
	recipient domain.Recipient,
) (bool, error) {
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("deliveryId", delivery.ID),
		zap.String("recipientId", recipient.ID),
		zap.Int("position", step.Position),
	)

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, d.rateScope()); err != nil {
			return false, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	email := content.Compose(step, recipient)
	msg := provider.Message{
		From:     d.from,
		To:       recipient.Email,
		ToName:   recipient.DisplayName(),
		Subject:  email.Subject,
		BodyText: email.BodyText,
		BodyHTML: email.BodyHTML,
	}

	start := time.Now()
	resp, sendErr := d.provider.Send(ctx, msg)
	d.metrics.ObserveDeliverySendDuration(d.provider.Name(), time.Since(start))

	now := d.now()
	if sendErr != nil {
		reason := "permanent"
		if provider.IsTransient(sendErr) {
			reason = "transient"
		}
		if err := tx.Deliveries().MarkFailed(ctx, delivery.ID, sendErr.Error(), now); err != nil {
			return false, fmt.Errorf("mark delivery failed: %w", err)
		}
		d.metrics.IncDeliveryFailed(d.provider.Name(), reason)
		logger.Warn("delivery failed", zap.String("reason", reason), zap.Error(sendErr))
		return false, nil
	}

	var messageID *string
	if resp != nil && resp.MessageID != "" {
		id := resp.MessageID
		messageID = &id
	}
	if err := tx.Deliveries().MarkSent(ctx, delivery.ID, now, messageID); err != nil {
		return false, fmt.Errorf("mark delivery sent: %w", err)
	}
	if err := d.createNextDelivery(ctx, tx, step, recipient, now); err != nil {
		return false, err
	}

	d.metrics.IncDeliverySent(d.provider.Name())
	logger.Info("delivery sent")
	return true, nil
}

// createNextDelivery queues the step after the one just sent. The last step
// of a campaign has no successor.
func (d *Dispatcher) createNextDelivery(
	ctx context.Context,
	tx repository.Repositories,
	step domain.Step,
	recipient domain.Recipient,
	now time.Time,
) error {
	next, err := tx.Campaigns().GetStepByPosition(ctx, step.CampaignID, step.Position+1)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load next step: %w", err)
	}

	err = tx.Deliveries().Create(ctx, &domain.Delivery{
		ID:          d.newID(),
		StepID:      next.ID,
		RecipientID: recipient.ID,
		Status:      domain.DeliveryStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateEntity) {
		return fmt.Errorf("create next delivery: %w", err)
	}

	return nil
}

func (d *Dispatcher) rateScope() string {
	if d.from != "" {
		return d.from
	}
	return d.provider.Name()
}
