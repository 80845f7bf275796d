package service

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Minute

// PendingProcessor runs one scheduling tick.
type PendingProcessor interface {
	ProcessPendingDeliveries(ctx context.Context, campaignID *string) (int, error)
}

// Scheduler drives the scheduling tick on a fixed interval.
type Scheduler struct {
	processor PendingProcessor
	logger    *zap.Logger
	interval  time.Duration
}

func NewScheduler(processor PendingProcessor, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		processor: processor,
		logger:    logger,
		interval:  interval,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	traceID := observability.NewTraceID()
	ctx = observability.WithTraceID(ctx, traceID)

	sent, err := s.processor.ProcessPendingDeliveries(ctx, nil)
	if err != nil {
		return err
	}
	if sent > 0 {
		s.logger.Info("scheduler tick sent deliveries", zap.String("traceId", traceID), zap.Int("sent", sent))
	}
	return nil
}
