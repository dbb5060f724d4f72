package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Paths are
// labelled by route template so the label set stays bounded.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures a stream from attach to completion.
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer starts a timer and marks the stream active.
func NewTimer(metrics *Metrics) *Timer {
	metrics.StreamStarted()
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop records the duration under outcome.
func (t *Timer) Stop(outcome string) {
	t.metrics.StreamFinished(outcome, time.Since(t.start))
}
