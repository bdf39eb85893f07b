package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/microgw/internal/observability"
	"github.com/vyrodovalexey/microgw/internal/retry"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// drainLimit bounds how much of a discarded response body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// Forwarder sends requests to route backends with breaker gating, per-attempt
// timeouts and bounded retries.
type Forwarder struct {
	breakers *circuitbreaker.Registry
	client   *http.Client
	logger   observability.Logger
	tracer   *observability.Tracer
	metrics  *Metrics
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithTransport sets the transport used for upstream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.client.Transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// WithTracer sets the tracer used for per-attempt client spans.
func WithTracer(t *observability.Tracer) Option {
	return func(f *Forwarder) {
		f.tracer = t
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewForwarder creates a forwarder whose breakers come from breakers.
func NewForwarder(breakers *circuitbreaker.Registry, opts ...Option) *Forwarder {
	f := &Forwarder{
		breakers: breakers,
		client: &http.Client{
			Transport: NewTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewTransport returns the default upstream transport.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// ReadBody buffers the request body so it can be replayed on retries.
// Bodies larger than limit yield ErrBodyTooLarge.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if limit > 0 && r.ContentLength > limit {
		return nil, ErrBodyTooLarge
	}

	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// Forward calls route's backend for r, whose body has already been read into
// body. On success the caller owns the response and must close its body.
//
// A response is returned for 1xx-4xx statuses, and for 5xx when the failure
// is not retried under the route's policy. Everything else is a *GatewayError;
// a caller whose ctx ends between attempts gets ctx.Err().
func (f *Forwarder) Forward(ctx context.Context, route *router.Route, r *http.Request, body []byte) (*http.Response, error) {
	backend := route.Target
	breaker := f.breakers.GetOrCreate(backend, circuitbreaker.ConfigFromPolicy(route.Policy))
	policy := retry.NewPolicy(route.Policy)
	callTimeout := route.Policy.AttemptTimeout()

	attempts := policy.Attempts(r.Method)
	header := OutboundHeader(r)
	target := upstreamURL(route, r)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			f.metrics.recordRetry(backend)
			if err := retry.Wait(ctx, policy.Backoff.Next(attempt-1)); err != nil {
				return nil, f.contextError(backend, attempt, err)
			}
		}

		permit, err := breaker.Acquire()
		if err != nil {
			f.logger.Debug("upstream call rejected by circuit breaker",
				observability.String("backend", backend),
				observability.Int("attempt", attempt+1),
			)
			return nil, f.fail(backend, KindBreakerOpen, attempt, err)
		}
		if permit.Probe() {
			f.logger.Info("sending half-open probe",
				observability.String("backend", backend),
				observability.Int("attempt", attempt+1),
			)
		}

		resp, outcome, latency, err := f.attempt(ctx, r.Method, target, header, body, callTimeout, attempt)
		permit.Record(outcome, latency)
		f.metrics.recordAttempt(backend, outcome, latency)

		if !outcome.Failed() {
			return resp, nil
		}

		if err == nil {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		lastErr = err

		f.logger.Debug("upstream attempt failed",
			observability.String("backend", backend),
			observability.Int("attempt", attempt+1),
			observability.String("outcome", outcome.String()),
			observability.Duration("latency", latency),
			observability.Error(err),
		)

		if !policy.Retryable(outcome) || attempts == 1 {
			if resp != nil {
				return resp, nil
			}
			return nil, f.fail(backend, outcomeKind(outcome), attempt+1, err)
		}
		if resp != nil {
			drain(resp.Body)
		}
	}

	return nil, f.fail(backend, KindExhaustedRetries, attempts, lastErr)
}

// attempt performs one upstream call. The call is detached from ctx's
// cancellation and bounded by callTimeout instead. The timeout stays in force
// while the response body is read and is released when the body is closed.
func (f *Forwarder) attempt(
	ctx context.Context,
	method, target string,
	header http.Header,
	body []byte,
	callTimeout time.Duration,
	attempt int,
) (*http.Response, circuitbreaker.Outcome, time.Duration, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)

	actx, span := f.tracer.StartSpan(actx, "upstream "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.Int("gateway.attempt", attempt+1),
		),
	)

	var reqBody io.Reader = http.NoBody
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, target, reqBody)
	if err != nil {
		span.End()
		cancel()
		return nil, circuitbreaker.OutcomeUnreachable, 0, err
	}
	req.Header = header.Clone()
	observability.InjectTraceContext(actx, req)

	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		outcome := retry.ClassifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.String())
		span.End()
		cancel()
		return nil, outcome, latency, err
	}

	outcome := retry.ClassifyStatus(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if outcome.Failed() {
		span.SetStatus(codes.Error, outcome.String())
	}
	resp.Body = &attemptBody{ReadCloser: resp.Body, cancel: cancel, span: span}
	return resp, outcome, latency, nil
}

func (f *Forwarder) fail(backend string, kind Kind, attempts int, cause error) error {
	f.metrics.recordError(backend, kind)
	return &GatewayError{Kind: kind, Backend: backend, Attempts: attempts, Cause: cause}
}

// contextError reports a caller whose context ended while waiting to retry.
// An expired deadline is a timeout; a cancellation is returned as is.
func (f *Forwarder) contextError(backend string, attempts int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return f.fail(backend, KindTimeout, attempts, err)
	}
	return err
}

func outcomeKind(o circuitbreaker.Outcome) Kind {
	if o == circuitbreaker.OutcomeTimeout {
		return KindTimeout
	}
	return KindUnreachable
}

// upstreamURL joins the route target with the full request path and query.
func upstreamURL(route *router.Route, r *http.Request) string {
	u := *route.TargetURL
	p := router.CleanPath(r.URL.Path)
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

// attemptBody releases the attempt's timeout and span once the body is closed.
type attemptBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	span   trace.Span
}

func (b *attemptBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	b.span.End()
	return err
}
