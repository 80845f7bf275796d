// Command tick runs a single scheduling pass and exits. It is meant to be
// invoked by cron or a job scheduler; overlapping runs are safe.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kursadbilgin/outreach-engine/internal/app"
	"github.com/kursadbilgin/outreach-engine/internal/config"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"go.uber.org/zap"
)

func main() {
	campaignID := flag.String("campaign", "", "limit the pass to one campaign id")
	flag.Parse()

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

	var scope *string
	if id := strings.TrimSpace(*campaignID); id != "" {
		scope = &id
	}

	ctx = observability.WithTraceID(ctx, observability.NewTraceID())
	sent, err := a.Campaign.ProcessPendingDeliveries(ctx, scope)
	if err != nil {
		observability.WithContextLogger(logger, ctx).Error("tick failed", zap.Int("sent", sent), zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	observability.WithContextLogger(logger, ctx).Info("tick finished", zap.Int("sent", sent))
}
