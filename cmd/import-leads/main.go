// Command import-leads adds the addresses in a CSV file to a campaign.
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
	"github.com/kursadbilgin/outreach-engine/internal/leads"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("file", "", "path to a CSV of leads (email[,name])")
	campaignID := flag.String("campaign", "", "campaign id to add the leads to")
	flag.Parse()

	if strings.TrimSpace(*path) == "" || strings.TrimSpace(*campaignID) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	f, err := os.Open(*path)
	if err != nil {
		logger.Fatal("open lead file failed", zap.String("file", *path), zap.Error(err))
	}
	parsed, err := leads.ParseCSV(f)
	f.Close() //nolint:errcheck
	if err != nil {
		logger.Fatal("parse lead file failed", zap.String("file", *path), zap.Error(err))
	}
	for _, email := range parsed.Invalid {
		logger.Warn("skipping invalid email", zap.String("email", email))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	inserted, err := a.Campaign.AddRecipients(ctx, strings.TrimSpace(*campaignID), parsed.Recipients)
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	logger.Info("leads imported",
		zap.Int("inserted", inserted),
		zap.Int("duplicates", len(parsed.Recipients)-inserted),
		zap.Int("invalid", len(parsed.Invalid)),
	)
}
