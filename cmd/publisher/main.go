// Command publisher replays a recorded event file into a running back-office.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coachpo/backoffice/config"
	"github.com/coachpo/backoffice/internal/feed"
	"github.com/coachpo/backoffice/internal/observability"
)

func main() {
	var (
		feedPath = flag.String("feed", "", "Path to JSON event file (default from config)")
		url      = flag.String("url", "", "Base URL of the intake server (default from config)")
		perSec   = flag.Float64("rate", 0, "Maximum submissions per second (default from config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "backoffice-publisher ", log.LstdFlags)
	observability.SetLogger(observability.NewStdLogger(logger, false))

	cfg := config.FromEnv().Publisher
	if *feedPath != "" {
		cfg.FeedPath = *feedPath
	}
	if *url != "" {
		cfg.IntakeURL = *url
	}
	if *perSec > 0 {
		cfg.RatePerSecond = *perSec
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events, err := feed.Load(cfg.FeedPath)
	if err != nil {
		logger.Fatalf("load feed: %v", err)
	}
	logger.Printf("feed loaded: %d events queued", events.Remaining())

	pub := feed.NewPublisher(events, cfg.IntakeURL, cfg.RatePerSecond, cfg.Burst)
	if err := pub.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Print("publisher interrupted")
			return
		}
		logger.Fatalf("publish: %v", err)
	}
	logger.Print("all events published")
}
