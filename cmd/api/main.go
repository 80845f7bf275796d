package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/outreach-engine/internal/app"
	"github.com/kursadbilgin/outreach-engine/internal/config"
	"github.com/kursadbilgin/outreach-engine/internal/handler"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/queue"
	"github.com/kursadbilgin/outreach-engine/internal/service"
	"github.com/kursadbilgin/outreach-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		AppName:               "outreach-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger.Named("http")),
	})
	server.Use(observability.TraceMiddleware())
	server.Use(a.Metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(server, handler.PostgresCheck(a.SQLDB), handler.RedisCheck(a.Redis))
	server.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))
	if err := handler.RegisterCampaignRoutes(server, a.Campaign); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	scheduler, err := service.NewScheduler(a.Campaign, cfg.TickInterval(), logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("outreach-engine api started", zap.Int("port", cfg.APIPort))
		if err := server.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ReplyQueue)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		consumer := queue.NewRabbitMQConsumer(mq, cfg.ReplyPrefetch, logger.Named("replies"))
		defer consumer.Close() //nolint:errcheck

		g.Go(func() error {
			return consumer.Consume(gctx, cfg.ReplyQueue, replyHandler(a.Campaign, logger))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("outreach-engine stopped with error", zap.Error(err))
		return
	}
	logger.Info("outreach-engine stopped")
}

func replyHandler(campaigns *service.CampaignService, logger *zap.Logger) queue.MessageHandler {
	return func(ctx context.Context, msg queue.ResponseMessage) error {
		ctx = observability.WithTraceID(ctx, observability.NewTraceID())
		classification, err := campaigns.HandleResponse(ctx, service.ResponseInput{
			Email:      msg.RecipientEmail,
			Content:    msg.Content,
			DeliveryID: msg.DeliveryID,
		})
		if err != nil {
			return err
		}

		observability.WithContextLogger(logger, ctx).Info("reply handled",
			zap.String("classification", classification.String()),
		)
		return nil
	}
}
