// Package app boots one gateway process: parse config, build the
// workers for the configured service type, run them under the
// supervisor, and tear everything down on SIGINT/SIGTERM.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/config"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/services"
)

type App struct {
	config *config.Config
}

func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
	}
}

func (a *App) Run(ctx context.Context) error {
	return run(ctx, a.config)
}

func run(mainContext context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(logging.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("service", string(cfg.Service)),
		zap.Int("port", cfg.Port))

	ctx, cancel := context.WithCancel(mainContext)
	defer cancel()

	builder := services.NewServiceBuilder(ctx, cfg, logger)
	if err := builder.BuildWorkers(); err != nil {
		logger.Error("failed to build workers", zap.Error(err))
		return err
	}
	supervisor := builder.Build()

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	var exitErr error
	select {
	case <-termChan:
		logger.Info("shutdown signal received")
		cancel()
		err := <-errChan
		// context.Canceled is expected during graceful shutdown.
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("error during graceful shutdown", zap.Error(err))
			exitErr = err
		}
	case err := <-errChan:
		if err != nil {
			logger.Error("workers exited unexpectedly", zap.Error(err))
			exitErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	builder.Cleanup(shutdownCtx)

	logger.Info("gateway shutdown complete")

	return exitErr
}
