package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/config"
)

// corsContext holds pre-computed values for the CORS middleware.
type corsContext struct {
	origins          map[string]bool
	allowAllOrigins  bool
	methods          map[string]bool
	allowAllMethods  bool
	allowMethodsStr  string
	headers          map[string]bool
	allowAllHeaders  bool
	allowHeadersStr  string
	exposeHeadersStr string
	maxAgeStr        string
	allowCredentials bool
}

func newCORSContext(cfg config.CORSConfig) *corsContext {
	ctx := &corsContext{
		origins:          make(map[string]bool, len(cfg.AllowedOrigins)),
		methods:          make(map[string]bool, len(cfg.AllowedMethods)),
		headers:          make(map[string]bool, len(cfg.AllowedHeaders)),
		allowMethodsStr:  strings.Join(cfg.AllowedMethods, ", "),
		allowHeadersStr:  strings.Join(cfg.AllowedHeaders, ", "),
		exposeHeadersStr: strings.Join(cfg.ExposedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			ctx.allowAllOrigins = true
		}
		ctx.origins[o] = true
	}
	for _, m := range cfg.AllowedMethods {
		if m == "*" {
			ctx.allowAllMethods = true
		}
		ctx.methods[strings.ToUpper(m)] = true
	}
	for _, h := range cfg.AllowedHeaders {
		if h == "*" {
			ctx.allowAllHeaders = true
		}
		ctx.headers[http.CanonicalHeaderKey(h)] = true
	}
	if secs := int(cfg.MaxAge.Duration().Seconds()); secs > 0 {
		ctx.maxAgeStr = strconv.Itoa(secs)
	}
	return ctx
}

func (ctx *corsContext) originAllowed(origin string) bool {
	return ctx.allowAllOrigins || ctx.origins[origin]
}

// requestedHeadersAllowed reports whether every header in an
// Access-Control-Request-Headers value is allowed.
func (ctx *corsContext) requestedHeadersAllowed(requested string) bool {
	if ctx.allowAllHeaders {
		return true
	}
	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		if h != "" && !ctx.headers[http.CanonicalHeaderKey(h)] {
			return false
		}
	}
	return true
}

func (ctx *corsContext) setCommonHeaders(c *gin.Context, origin string) {
	if ctx.allowAllOrigins && !ctx.allowCredentials {
		c.Header("Access-Control-Allow-Origin", "*")
	} else {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Add("Vary", "Origin")
	}
	if ctx.allowCredentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// CORS returns a middleware that answers preflight requests itself and adds
// CORS headers to responses for allowed origins. A preflight never reaches
// routing: it gets 204 when origin, method and headers are allowed and 403
// otherwise. Requests from other origins pass through without CORS headers.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	ctx := newCORSContext(cfg)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if IsPreflight(c.Request) {
			method := strings.ToUpper(c.Request.Header.Get("Access-Control-Request-Method"))
			requested := c.Request.Header.Get("Access-Control-Request-Headers")

			if !ctx.originAllowed(origin) || !(ctx.allowAllMethods || ctx.methods[method]) || !ctx.requestedHeadersAllowed(requested) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}

			ctx.setCommonHeaders(c, origin)
			if ctx.allowAllMethods {
				c.Header("Access-Control-Allow-Methods", method)
			} else {
				c.Header("Access-Control-Allow-Methods", ctx.allowMethodsStr)
			}
			switch {
			case ctx.allowAllHeaders && requested != "":
				c.Header("Access-Control-Allow-Headers", requested)
			case !ctx.allowAllHeaders && ctx.allowHeadersStr != "":
				c.Header("Access-Control-Allow-Headers", ctx.allowHeadersStr)
			}
			if ctx.maxAgeStr != "" {
				c.Header("Access-Control-Max-Age", ctx.maxAgeStr)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if origin != "" && ctx.originAllowed(origin) {
			ctx.setCommonHeaders(c, origin)
			if ctx.exposeHeadersStr != "" {
				c.Header("Access-Control-Expose-Headers", ctx.exposeHeadersStr)
			}
		}

		c.Next()
	}
}
