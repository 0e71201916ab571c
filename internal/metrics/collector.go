package metrics

import (
	"context"
	"runtime"
	"time"

	"keyvex/internal/logging"

	"go.uber.org/zap"
)

// StatusCounter reports how many jobs are in each status.
type StatusCounter func(ctx context.Context) (map[string]int, error)

// JobMetricsCollector periodically samples job counts and runtime gauges
type JobMetricsCollector struct {
	count    StatusCounter
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJobMetricsCollector creates a new collector
func NewJobMetricsCollector(count StatusCounter, interval time.Duration) *JobMetricsCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &JobMetricsCollector{
		count:    count,
		metrics:  Get(),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic collection
func (c *JobMetricsCollector) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)
		c.collect(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *JobMetricsCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *JobMetricsCollector) collect(ctx context.Context) {
	c.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))

	if c.count == nil {
		return
	}
	counts, err := c.count(ctx)
	if err != nil {
		logging.L().Warn("failed to sample job counts", zap.Error(err))
		return
	}
	c.metrics.JobsByStatus.Reset()
	for status, n := range counts {
		c.metrics.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
