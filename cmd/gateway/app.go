package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/gateway"
	"github.com/vyrodovalexey/microgw/internal/health"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// keySetCheckName is the health component reporting key set freshness.
const keySetCheckName = "keySet"

// application holds all application components.
type application struct {
	gateway *gateway.Gateway
	keys    *jwt.KeyCache
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  *config.GatewayConfig
	logger  observability.Logger
}

// serve loads the configuration, builds the application and runs it until
// ctx ends.
func serve(ctx context.Context, flags *cliFlags) error {
	cfg, err := config.LoadAndValidate(flags.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg, flags)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting microgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("breaker_policies", len(cfg.BreakerPolicies)),
	)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize gateway", observability.Error(err))
		return err
	}
	return app.run(ctx, flags.configPath, flags.watch)
}

// initLogger builds the process logger. Flags override the file settings.
func initLogger(cfg *config.GatewayConfig, flags *cliFlags) (observability.Logger, error) {
	lc := observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}
	if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		lc.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	observability.SetGlobalLogger(logger)
	return logger, nil
}

// newApplication wires the gateway with tracing, metrics and, when an issuer
// is configured, token validation. extra options are applied last.
func newApplication(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
	extra ...gateway.Option,
) (*application, error) {
	app := &application{config: cfg, logger: logger}

	tracer, err := initTracer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.tracer = tracer

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithTracer(tracer),
		gateway.WithVersion(version),
	}

	ns := cfg.Observability.Metrics.Namespace
	if cfg.Observability.Metrics.IsEnabled() {
		app.metrics = observability.NewMetrics(ns)
		app.metrics.SetBuildInfo(version, gitCommit)
		opts = append(opts, gateway.WithMetrics(app.metrics, ns))
	}

	if cfg.Auth.Enabled() {
		validator, keys, err := initAuthenticator(cfg.Auth, app.metrics, ns, logger)
		if err != nil {
			return nil, err
		}
		app.keys = keys
		opts = append(opts, gateway.WithAuthenticator(validator))
	}

	gw, err := gateway.New(cfg, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	app.gateway = gw

	if app.keys != nil {
		gw.HealthChecker().RegisterCheck(keySetCheckName,
			health.KeySetCheck(app.keys.LastRefresh, cfg.Auth.MaxStaleness.Duration(), time.Now))
	}
	return app, nil
}

// initTracer initializes the tracer.
func initTracer(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*observability.Tracer, error) {
	t := cfg.Observability.Tracing
	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.Endpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}

// initAuthenticator builds the key fetcher, key cache and validator for the
// configured issuer.
func initAuthenticator(
	auth config.AuthConfig,
	metrics *observability.Metrics,
	namespace string,
	logger observability.Logger,
) (*jwt.Validator, *jwt.KeyCache, error) {
	fetcherOpts := []jwt.HTTPFetcherOption{jwt.WithFetcherLogger(logger)}
	if auth.Discovery {
		fetcherOpts = append(fetcherOpts, jwt.WithDiscovery(auth.Issuer))
	}
	fetcher := jwt.NewHTTPFetcher(auth.JWKSURL, fetcherOpts...)

	opts := []jwt.Option{jwt.WithLogger(logger)}
	if metrics != nil {
		m := jwt.NewMetrics(namespace)
		if err := metrics.RegisterCollector(m.Collectors()...); err != nil {
			return nil, nil, fmt.Errorf("register jwt metrics: %w", err)
		}
		opts = append(opts, jwt.WithMetrics(m))
	}

	keys := jwt.NewKeyCache(fetcher, auth, opts...)
	validator, err := jwt.NewValidator(auth, keys, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token validator: %w", err)
	}
	return validator, keys, nil
}

// warmKeys fetches the key set once so the first request does not pay for
// it. A failure is only logged; validation retries the fetch on demand.
func (a *application) warmKeys(ctx context.Context) {
	if a.keys == nil {
		return
	}
	if err := a.keys.Refresh(ctx); err != nil {
		a.logger.Warn("initial key set fetch failed", observability.Error(err))
	}
}
