package middleware

import (
	"context"
	"fmt"
	"time"

	awspkg "checkout-service/pkg/aws"

	"github.com/gin-gonic/gin"
)

// HTTPMetrics is what MetricsMiddleware publishes through. *aws.MetricsClient
// satisfies it.
type HTTPMetrics interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
	IsEnabled() bool
}

const metricsFlushTimeout = 5 * time.Second

// MetricsMiddleware publishes request count, latency and error class per
// route template. Publishing happens off the request goroutine.
func MetricsMiddleware(metrics HTTPMetrics, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil || !metrics.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		dims := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(code),
		}
		go publishRequest(metrics, dims, code, time.Since(start))
	}
}

func publishRequest(metrics HTTPMetrics, dims map[string]string, code int, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsFlushTimeout)
	defer cancel()

	_ = metrics.RecordCount(ctx, awspkg.MetricHTTPRequests, dims)
	_ = metrics.RecordLatency(ctx, awspkg.MetricHTTPLatency, elapsed, dims)
	if code < 400 {
		return
	}
	_ = metrics.RecordCount(ctx, awspkg.MetricHTTPErrors, dims)
	if code >= 500 {
		_ = metrics.RecordCount(ctx, awspkg.MetricHTTP5xx, dims)
	} else {
		_ = metrics.RecordCount(ctx, awspkg.MetricHTTP4xx, dims)
	}
}

// statusClass buckets an HTTP status as "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
