package docs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// DocumentHandler serves /aggregate/:service/v3/api-docs. Unknown services
// and services without documents are 404; fetch failures are 502.
func (a *Aggregator) DocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := a.Document(c.Request.Context(), c.Param("service"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, doc)
		case errors.Is(err, ErrUnknownService), errors.Is(err, ErrDocsDisabled):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No API documentation for this service"})
		default:
			a.logger.Warn("api docs unavailable",
				observability.String("service", c.Param("service")),
				observability.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "bad_gateway", "message": "API documentation is unavailable"})
		}
	}
}

// AggregateHandler serves /v3/api-docs: every fetchable document keyed by
// service id. Services whose document is unavailable are left out.
func (a *Aggregator) AggregateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Aggregate(c.Request.Context()))
	}
}

// SwaggerConfigHandler serves /v3/api-docs/swagger-config.
func (a *Aggregator) SwaggerConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.SwaggerConfig())
	}
}
