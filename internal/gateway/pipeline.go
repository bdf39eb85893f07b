package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/middleware"
	"github.com/vyrodovalexey/microgw/internal/observability"
	"github.com/vyrodovalexey/microgw/internal/proxy"
	"github.com/vyrodovalexey/microgw/internal/retry"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// handle runs one request through route resolution, auth enforcement and the
// forwarder. CORS preflights were already answered by the CORS middleware.
func (g *Gateway) handle(c *gin.Context) {
	rt := g.runtime()
	r := c.Request
	ctx := r.Context()

	route, err := rt.table.Resolve(r.URL.Path)
	if err != nil {
		g.reject(c, observability.UnmatchedRoute, err)
		return
	}
	middleware.SetRoute(c, route.ID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("gateway.route", route.ID))

	subjectHeader := rt.cfg.Auth.SubjectHeader
	r.Header.Del(subjectHeader)

	if route.AuthRequired {
		principal, err := g.authenticate(ctx, r)
		if err != nil {
			g.reject(c, route.ID, err)
			return
		}
		r.Header.Set(subjectHeader, principal.Subject)
		ctx = jwt.ContextWithPrincipal(ctx, principal)
		r = r.WithContext(ctx)
		c.Request = r
	}

	body, err := proxy.ReadBody(r, rt.cfg.Server.MaxBodyBytes)
	if err != nil {
		if !errors.Is(err, proxy.ErrBodyTooLarge) {
			err = errors.Join(ErrBadRequest, err)
		}
		g.reject(c, route.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.requestDeadline(rt, route))
	defer cancel()

	resp, err := rt.forwarder.Forward(ctx, route, r, body)
	if err != nil {
		g.reject(c, route.ID, err)
		return
	}
	g.respond(c, resp)
}

// authenticate extracts and validates the bearer credential of r.
func (g *Gateway) authenticate(ctx context.Context, r *http.Request) (*jwt.Principal, error) {
	raw, err := jwt.ExtractBearer(r)
	switch {
	case errors.Is(err, jwt.ErrMissingHeader):
		return nil, ErrUnauthenticated
	case err != nil:
		return nil, jwt.ErrMalformed
	}
	if g.auth == nil {
		return nil, ErrNoAuthenticator
	}
	return g.auth.Validate(ctx, raw)
}

// requestDeadline bounds the whole forward: every attempt at its call
// timeout, the backoff between them and some slack.
func (g *Gateway) requestDeadline(rt *runtime, route *router.Route) time.Duration {
	budget := retry.NewPolicy(route.Policy).Budget(route.Policy.AttemptTimeout())
	return budget + rt.cfg.Server.RequestSlack.Duration()
}

// respond passes the backend response through: status, headers minus
// hop-by-hop ones, and body.
func (g *Gateway) respond(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	proxy.CopyResponseHeader(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		g.logger.WithContext(c.Request.Context()).Debug("response copy interrupted", observability.Error(err))
		_ = c.Error(err)
	}
}

// reject terminates the request with the caller-visible form of err.
func (g *Gateway) reject(c *gin.Context, routeID string, err error) {
	rej := classify(err)
	g.metrics.RecordRejection(routeID, rej.reason)

	fields := []observability.Field{
		observability.String("route", routeID),
		observability.String("reason", rej.reason),
		observability.Int("status", rej.status),
		observability.Error(err),
	}
	l := g.logger.WithContext(c.Request.Context())
	switch {
	case rej.status >= http.StatusInternalServerError:
		l.Warn("request rejected", fields...)
	case rej.status == http.StatusUnauthorized:
		l.Info("request rejected", fields...)
	default:
		l.Debug("request rejected", fields...)
	}

	if rej.challenge != "" {
		c.Header("WWW-Authenticate", rej.challenge)
	}
	c.AbortWithStatusJSON(rej.status, gin.H{"error": rej.code, "message": rej.message})
}
