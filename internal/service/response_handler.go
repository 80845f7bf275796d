package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/classifier"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

// ResponseInput is an inbound reply from a recipient.
type ResponseInput struct {
	Email      string
	Content    string
	DeliveryID *string
}

type ResponsePolicy struct {
	AutoClassify    bool
	AutoUnsubscribe bool
}

// ResponseHandler classifies replies, stores them and applies the
// unsubscribe cascade.
type ResponseHandler struct {
	store      repository.Store
	classifier classifier.Classifier
	policy     ResponsePolicy
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewResponseHandler(
	store repository.Store,
	c classifier.Classifier,
	policy ResponsePolicy,
	logger *zap.Logger,
) (*ResponseHandler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if c == nil {
		c = classifier.NewKeywordClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResponseHandler{
		store:      store,
		classifier: c,
		policy:     policy,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}, nil
}

func (h *ResponseHandler) SetMetrics(metrics *observability.Metrics) {
	h.metrics = metrics
}

// Handle records a reply and returns its classification. Replies from
// addresses that match no recipient are dropped and reported as PENDING.
func (h *ResponseHandler) Handle(ctx context.Context, in ResponseInput) (domain.Classification, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return "", fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(h.logger, ctx)

	classification := domain.ClassificationPending
	if h.policy.AutoClassify {
		classification = h.classifier.Classify(in.Content)
	}

	result := domain.ClassificationPending
	stored := false
	err := h.store.Transaction(ctx, func(tx repository.Repositories) error {
		recipient, deliveryID, err := h.resolveRecipient(ctx, tx, email, in.DeliveryID)
		if err != nil {
			return err
		}
		if recipient == nil {
			logger.Warn("response from unknown recipient ignored", zap.String("email", email))
			return nil
		}

		now := h.now()
		err = tx.Responses().Create(ctx, &domain.Response{
			ID:             h.newID(),
			RecipientID:    recipient.ID,
			DeliveryID:     deliveryID,
			Content:        in.Content,
			Classification: classification,
			CreatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("create response: %w", err)
		}

		if h.policy.AutoClassify && h.policy.AutoUnsubscribe && classification == domain.ClassificationUnsubscribed {
			if err := tx.Recipients().SetSuppressed(ctx, recipient.ID); err != nil {
				return fmt.Errorf("suppress recipient: %w", err)
			}
			cancelled, err := tx.Deliveries().FailPendingForRecipient(ctx, recipient.ID, domain.ReasonUnsubscribed, now)
			if err != nil {
				return fmt.Errorf("cancel pending deliveries: %w", err)
			}
			logger.Info("recipient unsubscribed",
				zap.String("recipientId", recipient.ID),
				zap.Int64("cancelledDeliveries", cancelled),
			)
		}

		result = classification
		stored = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if stored {
		h.metrics.IncResponse(string(result))
	}

	return result, nil
}

// resolveRecipient prefers the recipient owning deliveryID when its address
// matches; otherwise it falls back to the oldest recipient with that address.
// The returned delivery id is nil when it does not belong to the recipient.
func (h *ResponseHandler) resolveRecipient(
	ctx context.Context,
	tx repository.Repositories,
	email string,
	deliveryID *string,
) (*domain.Recipient, *string, error) {
	if deliveryID != nil && strings.TrimSpace(*deliveryID) != "" {
		id := strings.TrimSpace(*deliveryID)
		delivery, err := tx.Deliveries().GetByID(ctx, id)
		switch {
		case err == nil:
			recipient, err := tx.Recipients().GetByID(ctx, delivery.RecipientID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, nil, fmt.Errorf("load delivery recipient: %w", err)
			}
			if recipient != nil && recipient.Email == email {
				return recipient, &id, nil
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, nil, fmt.Errorf("load delivery: %w", err)
		}
	}

	recipients, err := tx.Recipients().FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("find recipient: %w", err)
	}
	if len(recipients) == 0 {
		return nil, nil, nil
	}

	return &recipients[0], nil, nil
}
