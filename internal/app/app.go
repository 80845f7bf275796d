// Package app wires configuration into the campaign service and its
// infrastructure. Every binary under cmd/ builds on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kursadbilgin/outreach-engine/internal/classifier"
	"github.com/kursadbilgin/outreach-engine/internal/config"
	"github.com/kursadbilgin/outreach-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/outreach-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/outreach-engine/internal/infra/redis"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/provider"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/kursadbilgin/outreach-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	SQLDB    *sql.DB
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Campaign *service.CampaignService
}

// New connects to Postgres and Redis, applies migrations and builds the
// campaign service. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.DB = db

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	a.SQLDB = sqlDB

	if err := migrations.Migrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	a.Redis = rdb

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	emailProvider, err := provider.New(cfg.ProviderConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("email provider initialization failed: %w", err)
	}

	intent, err := classifier.New(cfg.Classifier)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("classifier initialization failed: %w", err)
	}

	store := repository.NewGormStore(db)

	dispatcher, err := service.NewDispatcher(emailProvider, limiter, senderAddress(cfg), logger.Named("dispatcher"))
	if err != nil {
		a.Close()
		return nil, err
	}

	responses, err := service.NewResponseHandler(store, intent, service.ResponsePolicy{
		AutoClassify:    cfg.AutoClassifyResponses,
		AutoUnsubscribe: cfg.AutoUnsubscribeOnRequest,
	}, logger.Named("responses"))
	if err != nil {
		a.Close()
		return nil, err
	}

	campaigns, err := service.NewCampaignService(store, dispatcher, responses, cfg.TickBatchLimit, logger.Named("campaigns"))
	if err != nil {
		a.Close()
		return nil, err
	}
	campaigns.SetMetrics(a.Metrics)
	a.Campaign = campaigns

	logger.Info("application wired",
		zap.String("provider", emailProvider.Name()),
		zap.Int("tickBatchLimit", cfg.TickBatchLimit),
		zap.Int("sendRateLimitPerSec", cfg.SendRateLimitPerSec),
	)

	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.SQLDB != nil {
		if err := a.SQLDB.Close(); err != nil {
			a.Logger.Warn("postgres close failed", zap.Error(err))
		}
	}
}

func senderAddress(cfg *config.Config) string {
	if from := strings.TrimSpace(cfg.EmailFrom); from != "" {
		return from
	}
	return strings.TrimSpace(cfg.SMTPUsername)
}
