package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Listener serves a handler on the configured address.
type Listener struct {
	config  config.ServerConfig
	server  *http.Server
	handler http.Handler
	logger  observability.Logger
	addr    atomic.Value
	running atomic.Bool
	done    chan struct{}
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a listener for cfg.
func NewListener(cfg config.ServerConfig, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		config:  cfg,
		handler: handler,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Address returns the configured listen address.
func (l *Listener) Address() string {
	return net.JoinHostPort(l.config.Address, strconv.Itoa(l.config.Port))
}

// Addr returns the bound address once started, e.g. the actual port when
// the configured port is 0.
func (l *Listener) Addr() string {
	if v, ok := l.addr.Load().(string); ok {
		return v
	}
	return l.Address()
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return errors.New("listener is already running")
	}

	addr := l.Address()
	l.server = &http.Server{
		Addr:              addr,
		Handler:           l.handler,
		ReadTimeout:       l.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      l.config.WriteTimeout.Duration(),
		IdleTimeout:       l.config.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l.addr.Store(ln.Addr().String())
	l.running.Store(true)
	l.done = make(chan struct{})

	l.logger.Info("listener started", observability.String("address", ln.Addr().String()))

	go l.serve(ln)
	return nil
}

func (l *Listener) serve(ln net.Listener) {
	defer close(l.done)

	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error", observability.Error(err))
	}
	l.running.Store(false)
}

// Stop shuts the server down gracefully, closing it outright if ctx ends
// before in-flight requests finish.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener")

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}
	<-l.done

	l.logger.Info("listener stopped")
	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
