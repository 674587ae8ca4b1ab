package middleware

import (
	"strconv"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request count, latency and in-flight requests per route
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsActive.Inc()
		defer m.HTTPRequestsActive.Dec()

		// route pattern, so every short code lands in one series
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		c.Next()

		method := c.Request.Method
		m.HTTPRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
	}
}
