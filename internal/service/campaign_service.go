package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

type StepInput struct {
	Position     int
	DelayMinutes int
	Subject      string
	BodyText     *string
	BodyHTML     *string
}

type NewRecipient struct {
	Email string
	Name  *string
	Vars  map[string]any
}

type DeliveryStats struct {
	Sent    int64
	Pending int64
	Failed  int64
	Total   int64
}

type ResponseStats struct {
	Positive     int64
	Negative     int64
	Unsubscribed int64
	Total        int64
}

type CampaignStats struct {
	CampaignID       string
	CampaignName     string
	TotalRecipients  int64
	Suppressed       int64
	ActiveRecipients int64
	Deliveries       DeliveryStats
	Responses        ResponseStats
}

// CampaignService is the entry point for every campaign operation: setup,
// the scheduling tick, reply handling and reporting.
type CampaignService struct {
	store      repository.Store
	dispatcher *Dispatcher
	responses  *ResponseHandler
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
	batchLimit int
}

func NewCampaignService(
	store repository.Store,
	dispatcher *Dispatcher,
	responses *ResponseHandler,
	batchLimit int,
	logger *zap.Logger,
) (*CampaignService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if responses == nil {
		return nil, errors.New("response handler is required")
	}
	if batchLimit < 0 {
		batchLimit = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		store:      store,
		dispatcher: dispatcher,
		responses:  responses,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		batchLimit: batchLimit,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
	s.dispatcher.SetMetrics(metrics)
	s.responses.SetMetrics(metrics)
}

// setClock pins every collaborator to the same clock.
func (s *CampaignService) setClock(now func() time.Time) {
	s.now = now
	s.dispatcher.now = now
	s.responses.now = now
}

func (s *CampaignService) CreateCampaign(ctx context.Context, name string, steps []StepInput) (*domain.Campaign, error) {
	now := s.now()
	campaign := &domain.Campaign{
		ID:        s.newID(),
		Name:      strings.TrimSpace(name),
		Steps:     make([]domain.Step, 0, len(steps)),
		CreatedAt: now,
	}
	for _, in := range steps {
		campaign.Steps = append(campaign.Steps, domain.Step{
			ID:           s.newID(),
			CampaignID:   campaign.ID,
			Position:     in.Position,
			DelayMinutes: in.DelayMinutes,
			Subject:      in.Subject,
			BodyText:     in.BodyText,
			BodyHTML:     in.BodyHTML,
		})
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		return tx.Campaigns().Create(ctx, campaign)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEntity) {
			return nil, fmt.Errorf("%w: duplicate step position", domain.ErrValidation)
		}
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.Int("steps", len(campaign.Steps)),
	)

	return s.GetCampaign(ctx, campaign.ID)
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	campaign, err := s.store.Campaigns().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return campaign, nil
}

func (s *CampaignService) ListCampaigns(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error) {
	campaigns, total, err := s.store.Campaigns().List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, total, nil
}

// AddRecipients inserts recipients into the campaign and returns how many
// were new. Invalid addresses and addresses already in the campaign are
// skipped. An unknown campaign adds nothing and is not an error.
func (s *CampaignService) AddRecipients(ctx context.Context, campaignID string, recipients []NewRecipient) (int, error) {
	inserted := 0
	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		_, err := tx.Campaigns().GetByID(ctx, campaignID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("recipients not added: campaign not found",
				zap.String("campaignId", campaignID),
				zap.Int("requested", len(recipients)),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}

		for _, in := range recipients {
			email := domain.NormalizeEmail(in.Email)
			if err := domain.ValidateEmail(email); err != nil {
				s.logger.Warn("skipping invalid recipient email",
					zap.String("campaignId", campaignID),
					zap.String("email", email),
				)
				continue
			}

			err := tx.Recipients().Create(ctx, &domain.Recipient{
				ID:         s.newID(),
				CampaignID: campaignID,
				Email:      email,
				Name:       in.Name,
				Vars:       in.Vars,
				CreatedAt:  s.now(),
			})
			if errors.Is(err, domain.ErrDuplicateEntity) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create recipient %s: %w", email, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("recipients added",
		zap.String("campaignId", campaignID),
		zap.Int("inserted", inserted),
		zap.Int("requested", len(recipients)),
	)
	return inserted, nil
}

// InitializeDeliveries queues the first step for every active recipient that
// does not have it yet. A missing campaign or first step is a no-op.
func (s *CampaignService) InitializeDeliveries(ctx context.Context, campaignID string) (int, error) {
	created := 0
	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		first, err := tx.Campaigns().GetStepByPosition(ctx, campaignID, 0)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load first step: %w", err)
		}

		recipients, err := tx.Recipients().ListByCampaign(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}

		for _, recipient := range recipients {
			if recipient.Suppressed {
				continue
			}
			now := s.now()
			err := tx.Deliveries().Create(ctx, &domain.Delivery{
				ID:          s.newID(),
				StepID:      first.ID,
				RecipientID: recipient.ID,
				Status:      domain.DeliveryStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if errors.Is(err, domain.ErrDuplicateEntity) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create delivery for recipient %s: %w", recipient.ID, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("deliveries initialized", zap.String("campaignId", campaignID), zap.Int("created", created))
	return created, nil
}

// ProcessPendingDeliveries runs one scheduling tick and returns how many
// deliveries were sent. Each delivery commits in its own transaction, so a
// failure on one leaves the others untouched and an interrupted tick leaves
// the rest pending for the next one. A positive batch limit caps the send
// attempts per tick; pending deliveries that are not due yet do not count
// against it.
func (s *CampaignService) ProcessPendingDeliveries(ctx context.Context, campaignID *string) (int, error) {
	if _, ok := observability.TraceIDFromContext(ctx); !ok {
		ctx = observability.WithTraceID(ctx, observability.NewTraceID())
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	start := time.Now()
	defer func() {
		s.metrics.ObserveTickDuration(time.Since(start))
	}()

	tc := newTickContext(s.store)
	params := repository.PendingParams{CampaignID: campaignID, Limit: s.batchLimit}
	scanned, attempted, sent := 0, 0, 0

	for {
		pending, err := s.store.Deliveries().ListPending(ctx, params)
		if err != nil {
			return sent, fmt.Errorf("list pending deliveries: %w", err)
		}

		for _, delivery := range pending {
			if s.batchLimit > 0 && attempted >= s.batchLimit {
				break
			}
			if ctx.Err() != nil {
				logger.Warn("tick interrupted", zap.Int("sent", sent))
				return sent, ctx.Err()
			}

			scanned++
			outcome, err := s.processDelivery(ctx, tc, delivery)
			if err != nil {
				logger.Error("delivery processing failed",
					zap.String("deliveryId", delivery.ID),
					zap.Error(err),
				)
				continue
			}
			switch outcome {
			case outcomeSent:
				attempted++
				sent++
			case outcomeFailed:
				attempted++
			}
		}

		if s.batchLimit <= 0 || attempted >= s.batchLimit || len(pending) < s.batchLimit {
			break
		}
		params.After = repository.CursorAfter(pending[len(pending)-1])
	}

	logger.Info("tick completed",
		zap.Int("scanned", scanned),
		zap.Int("attempted", attempted),
		zap.Int("sent", sent),
	)
	return sent, nil
}

type deliveryOutcome int

const (
	outcomeSkipped deliveryOutcome = iota
	outcomeSent
	outcomeFailed
)

func (s *CampaignService) processDelivery(ctx context.Context, tc *tickContext, delivery domain.Delivery) (deliveryOutcome, error) {
	step, err := tc.step(ctx, delivery.StepID)
	if err != nil {
		return outcomeSkipped, err
	}
	recipient, err := tc.recipient(ctx, delivery.RecipientID)
	if err != nil {
		return outcomeSkipped, err
	}
	predecessor, err := tc.predecessor(ctx, *step, recipient.ID)
	if err != nil {
		return outcomeSkipped, err
	}

	if !domain.IsDue(delivery, *step, *recipient, predecessor, s.now()) {
		if recipient.Suppressed {
			s.metrics.IncDeliverySkipped("suppressed")
		} else {
			s.metrics.IncDeliverySkipped("not_due")
		}
		return outcomeSkipped, nil
	}

	outcome := outcomeSkipped
	err = s.store.Transaction(ctx, func(tx repository.Repositories) error {
		locked, err := tx.Deliveries().LockPending(ctx, delivery.ID)
		if err != nil {
			return fmt.Errorf("lock delivery: %w", err)
		}
		if locked == nil {
			s.metrics.IncDeliverySkipped("locked")
			return nil
		}

		current, err := tx.Recipients().GetByID(ctx, recipient.ID)
		if err != nil {
			return fmt.Errorf("reload recipient: %w", err)
		}
		if current.Suppressed {
			s.metrics.IncDeliverySkipped("suppressed")
			return nil
		}

		sent, err := s.dispatcher.Dispatch(ctx, tx, *locked, *step, *current)
		if err != nil {
			return err
		}
		outcome = outcomeFailed
		if sent {
			outcome = outcomeSent
		}
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}

	return outcome, nil
}

// HandleResponse records a reply from a recipient and returns its
// classification.
func (s *CampaignService) HandleResponse(ctx context.Context, in ResponseInput) (domain.Classification, error) {
	return s.responses.Handle(ctx, in)
}

// GetCampaignStats aggregates recipient, delivery and response counts. An
// unknown campaign yields nil stats and no error.
func (s *CampaignService) GetCampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	var stats *CampaignStats
	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		campaign, err := tx.Campaigns().GetByID(ctx, campaignID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		recipients, err := tx.Recipients().CountByCampaign(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("count recipients: %w", err)
		}
		statusCounts, err := tx.Deliveries().CountByStatus(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("count deliveries: %w", err)
		}
		classCounts, err := tx.Responses().CountByClassification(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("count responses: %w", err)
		}

		stats = &CampaignStats{
			CampaignID:       campaign.ID,
			CampaignName:     campaign.Name,
			TotalRecipients:  recipients.Total,
			Suppressed:       recipients.Suppressed,
			ActiveRecipients: recipients.Total - recipients.Suppressed,
		}
		for _, c := range statusCounts {
			switch c.Status {
			case domain.DeliveryStatusSent:
				stats.Deliveries.Sent = c.Count
			case domain.DeliveryStatusPending:
				stats.Deliveries.Pending = c.Count
			case domain.DeliveryStatusFailed:
				stats.Deliveries.Failed = c.Count
			}
			stats.Deliveries.Total += c.Count
		}
		for _, c := range classCounts {
			switch c.Classification {
			case domain.ClassificationPositive:
				stats.Responses.Positive = c.Count
			case domain.ClassificationNegative:
				stats.Responses.Negative = c.Count
			case domain.ClassificationUnsubscribed:
				stats.Responses.Unsubscribed = c.Count
			}
			stats.Responses.Total += c.Count
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	return stats, nil
}

func (s *CampaignService) ListRecipientDeliveries(ctx context.Context, recipientID string) ([]domain.Delivery, error) {
	if _, err := s.store.Recipients().GetByID(ctx, recipientID); err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}

	deliveries, err := s.store.Deliveries().ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}

// tickContext caches the steps and recipients read during one tick.
type tickContext struct {
	repos      repository.Repositories
	steps      map[string]*domain.Step
	positions  map[string]*domain.Step
	recipients map[string]*domain.Recipient
}

func newTickContext(repos repository.Repositories) *tickContext {
	return &tickContext{
		repos:      repos,
		steps:      make(map[string]*domain.Step),
		positions:  make(map[string]*domain.Step),
		recipients: make(map[string]*domain.Recipient),
	}
}

func (c *tickContext) step(ctx context.Context, id string) (*domain.Step, error) {
	if step, ok := c.steps[id]; ok {
		return step, nil
	}
	step, err := c.repos.Campaigns().GetStepByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load step %s: %w", id, err)
	}
	c.steps[id] = step
	return step, nil
}

func (c *tickContext) recipient(ctx context.Context, id string) (*domain.Recipient, error) {
	if recipient, ok := c.recipients[id]; ok {
		return recipient, nil
	}
	recipient, err := c.repos.Recipients().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load recipient %s: %w", id, err)
	}
	c.recipients[id] = recipient
	return recipient, nil
}

// predecessor returns the recipient's delivery for the step before step, or
// nil when the step is first or that delivery does not exist.
func (c *tickContext) predecessor(ctx context.Context, step domain.Step, recipientID string) (*domain.Delivery, error) {
	if step.Position == 0 {
		return nil, nil
	}

	key := fmt.Sprintf("%s/%d", step.CampaignID, step.Position-1)
	prev, ok := c.positions[key]
	if !ok {
		var err error
		prev, err = c.repos.Campaigns().GetStepByPosition(ctx, step.CampaignID, step.Position-1)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load previous step: %w", err)
		}
		c.positions[key] = prev
	}
	if prev == nil {
		return nil, nil
	}

	delivery, err := c.repos.Deliveries().GetByRecipientAndStep(ctx, recipientID, prev.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load previous delivery: %w", err)
	}
	return delivery, nil
}
