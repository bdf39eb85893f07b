package gateway

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/docs"
	"github.com/vyrodovalexey/microgw/internal/middleware"
	"github.com/vyrodovalexey/microgw/internal/proxy"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// runtime is everything derived from one configuration. It is immutable once
// built; a reload swaps in a new one and in-flight requests finish on the old.
type runtime struct {
	cfg       *config.GatewayConfig
	table     *router.Table
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	docs      *docs.Aggregator
	cors      gin.HandlerFunc
}

func (g *Gateway) buildRuntime(cfg *config.GatewayConfig) (*runtime, error) {
	table, err := router.NewTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	breakers := circuitbreaker.NewRegistry(
		circuitbreaker.WithClock(g.clock),
		circuitbreaker.WithLogger(g.logger),
		circuitbreaker.WithMetrics(g.breakerMetrics),
	)

	forwarderOpts := []proxy.Option{
		proxy.WithLogger(g.logger),
		proxy.WithTracer(g.tracer),
		proxy.WithMetrics(g.proxyMetrics),
	}
	if g.transport != nil {
		forwarderOpts = append(forwarderOpts, proxy.WithTransport(g.transport))
	}

	return &runtime{
		cfg:       cfg,
		table:     table,
		breakers:  breakers,
		forwarder: proxy.NewForwarder(breakers, forwarderOpts...),
		docs:      docs.NewAggregator(table, cfg.Docs, docs.WithLogger(g.logger)),
		cors:      middleware.CORS(cfg.CORS),
	}, nil
}
