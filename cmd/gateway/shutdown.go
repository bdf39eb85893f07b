package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// run starts the gateway and blocks until ctx ends, then shuts down.
func (a *application) run(ctx context.Context, configPath string, watch bool) error {
	a.warmKeys(ctx)

	if err := a.gateway.Start(ctx); err != nil {
		a.logger.Error("failed to start gateway", observability.Error(err))
		return err
	}

	var watcher *config.Watcher
	if watch {
		watcher = a.startConfigWatcher(ctx, configPath)
	}

	<-ctx.Done()
	a.logger.Info("received shutdown signal", observability.Error(context.Cause(ctx)))

	return a.shutdown(watcher)
}

// shutdown stops the watcher, drains the gateway and flushes the tracer,
// bounded by the configured shutdown timeout.
func (a *application) shutdown(watcher *config.Watcher) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		a.gateway.Config().Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := a.gateway.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop gateway gracefully", observability.Error(err))
		errs = append(errs, fmt.Errorf("stop gateway: %w", err))
	}

	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}

	a.logger.Info("microgw stopped")
	return errors.Join(errs...)
}
