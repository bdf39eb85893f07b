package main

import (
	"context"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// startConfigWatcher reloads the gateway whenever the configuration file
// changes. The watcher only delivers configurations that validate, and the
// gateway revalidates before swapping, so a bad edit keeps the running
// routes. A watcher that cannot start is logged and skipped.
func (a *application) startConfigWatcher(ctx context.Context, configPath string) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, a.reload, config.WithLogger(a.logger))
	if err != nil {
		a.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

// reload applies a new configuration to the running gateway.
func (a *application) reload(cfg *config.GatewayConfig) {
	a.logger.Info("configuration changed, reloading")
	if err := a.gateway.Reload(cfg); err != nil {
		a.logger.Error("failed to reload configuration", observability.Error(err))
	}
}
