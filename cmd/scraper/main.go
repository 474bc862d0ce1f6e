package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/samvad-search-scraper/internal/app"
	"github.com/samvad-hq/samvad-search-scraper/internal/config"
	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
)

const (
	exitOK         = 0
	exitStartup    = 1
	exitIncomplete = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scraper start failed: load config: %v\n", err)
		return exitStartup
	}

	log, err := logger.Init(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scraper start failed: init logger: %v\n", err)
		return exitStartup
	}
	defer logger.Close()

	logger.InfoObj("scraper starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := app.NewScraper(ctx, cfg, log, app.Deps{})
	if err != nil {
		logger.ErrorObj("failed to initialize scraper", "error", err)
		fmt.Fprintf(os.Stderr, "scraper start failed: %v\n", err)
		return exitStartup
	}

	if err := s.Run(ctx); err != nil {
		if errors.Is(err, app.ErrRunIncomplete) {
			logger.ErrorObj("scrape run incomplete; re-run to resume", "error", err.Error())
			return exitIncomplete
		}
		logger.ErrorObj("scrape run failed", "error", err.Error())
		return exitStartup
	}
	return exitOK
}
