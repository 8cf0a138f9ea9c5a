// Command notifyd runs the notification delivery engine: the dispatcher
// poll loop, the HTTP API and housekeeping, sharing one PostgreSQL schema.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/requestid"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "notifyd"),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	log.InfoContext(ctx, "notifyd starting")
	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "notifyd stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
