package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"worldbuilder/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run holds everything main defers, so the logger is synced and signal
// handling restored before the process exits.
func run(args []string) int {
	flags := flag.NewFlagSet("worldbuilder", flag.ContinueOnError)
	var (
		configPath = flags.String("config", "settings.json", "Settings file; missing means defaults")
		serve      = flags.Bool("serve", false, "Stream snapshots over a websocket while simulating")
		dev        = flags.Bool("dev", false, "Human readable development logging")
		seed       = flags.Uint64("seed", 0, "Override the random seed")
	)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		return 1
	}
	if *dev {
		settings.Logging.Development = true
	}
	if *seed != 0 {
		settings.Simulation.Seed = *seed
	}

	logger, err := newLogger(settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runApplication(ctx, logger, settings, *serve)
}

func newLogger(s config.LoggingSettings) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func runApplication(ctx context.Context, logger *zap.Logger, settings config.Settings, serve bool) int {
	runID := uuid.New()
	logger = logger.With(zap.String("run", runID.String()))

	runner, err := NewRunner(runID, settings, logger)
	if err != nil {
		logger.Error("world setup failed", zap.Error(err))
		return 1
	}

	if serve {
		srv := NewServer(runner, settings.Server, logger)
		runner.OnStep(srv.Broadcast)
		srvCtx, cancel := context.WithCancel(ctx)
		errs := make(chan error, 1)
		go func() { errs <- srv.ListenAndServe(srvCtx) }()
		defer func() {
			cancel()
			if err := <-errs; err != nil {
				logger.Error("server stopped", zap.Error(err))
			}
		}()
	}

	if err := runner.Run(ctx); err != nil {
		logger.Error("simulation aborted", zap.Error(err))
		return 1
	}
	logger.Info("simulation finished",
		zap.Float64("age", runner.Age()),
		zap.Int("steps", runner.Steps()),
	)
	if serve {
		// keep streaming the final state until interrupted
		<-ctx.Done()
	}
	return 0
}
