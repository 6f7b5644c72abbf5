package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/casevault/internal/app"
	"github.com/bobmcallan/casevault/internal/common"
)

func main() {
	common.LoadVersionFromFile()

	configPath := os.Getenv("CASEVAULT_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	common.PrintBanner(config, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize app")
	}

	a.Start(ctx)
	logger.Info().
		Int("workers", len(config.Workers)).
		Str("storage", config.Storage.Address).
		Msg("casevault-worker ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, draining in-flight jobs")
	cancel()

	// Give running handlers a bounded window to finish their current job
	// before the process exits; Pool.Stop waits on its dispatcher and
	// worker goroutines but not on handler completion beyond what ctx
	// cancellation already triggers.
	shutdownTimer := time.NewTimer(30 * time.Second)
	defer shutdownTimer.Stop()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownTimer.C:
		logger.Warn().Msg("Shutdown timeout elapsed, exiting without waiting for all components")
	}

	common.PrintShutdownBanner(logger)
}
