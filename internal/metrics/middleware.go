package metrics

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sizeWriter counts body bytes written through gin's writer.
type sizeWriter struct {
	gin.ResponseWriter
	size int
}

func (w *sizeWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.size += n
	return n, err
}

func (w *sizeWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.size += n
	return n, err
}

// PrometheusMiddleware records request count, latency and response size per
// route template. The scrape endpoint and websocket upgrades are skipped; a
// socket would otherwise count as one request lasting its whole lifetime.
func PrometheusMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/metrics" || strings.HasPrefix(path, "/ws/") {
			c.Next()
			return
		}

		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &sizeWriter{ResponseWriter: c.Writer}
		c.Writer = sw

		c.Next()

		m.RecordHTTPRequest(routeLabel(c), c.Request.Method, c.Writer.Status(), time.Since(start), sw.size)
	}
}

// routeLabel uses the matched template (":jobId" instead of the ID) so job IDs
// never become label values.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// PrometheusHandler serves the default registry.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
