package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordAPIRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures one oneM2M request
type Timer struct {
	start     time.Time
	metrics   *Metrics
	transport string
	op        string
}

// NewTimer starts timing a request
func NewTimer(metrics *Metrics, transport, op string) *Timer {
	return &Timer{
		start:     time.Now(),
		metrics:   metrics,
		transport: transport,
		op:        op,
	}
}

// Stop records the request with its outcome
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordRequest(t.transport, t.op, outcome, time.Since(t.start))
}
