package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		path  string
		level zapcore.Level
	}{
		{"/ok", zapcore.InfoLevel},
		{"/missing", zapcore.WarnLevel},
		{"/broken", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		get(router, tt.path)
		entries := logs.TakeAll()
		if assert.Len(t, entries, 1, tt.path) {
			assert.Equal(t, tt.level, entries[0].Level, tt.path)
			assert.Equal(t, "http", entries[0].LoggerName)
			assert.Equal(t, tt.path, entries[0].ContextMap()["path"])
		}
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)

	router := gin.New()
	router.Use(Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := get(router, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic while serving request").Len())
}

func TestTimeoutSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Timeout(50 * time.Millisecond))

	var remaining time.Duration
	var hasDeadline bool
	router.GET("/t", func(c *gin.Context) {
		var deadline time.Time
		deadline, hasDeadline = c.Request.Context().Deadline()
		remaining = time.Until(deadline)
		c.Status(http.StatusNoContent)
	})

	get(router, "/t")
	assert.True(t, hasDeadline)
	assert.LessOrEqual(t, remaining, 50*time.Millisecond)
}

func TestTimeoutDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Timeout(0))

	hasDeadline := true
	router.GET("/t", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
	})

	get(router, "/t")
	assert.False(t, hasDeadline)
}

func TestMetricsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/:short_code", func(c *gin.Context) { c.Status(http.StatusFound) })

	get(router, "/abc123")
	get(router, "/def456")
	get(router, "/a/b")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/:short_code", "GET", "302")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("unmatched", "GET", "404")))
	assert.Zero(t, testutil.ToFloat64(m.HTTPRequestsActive))
}
