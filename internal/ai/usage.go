package ai

import (
	"sync"
	"time"
)

// usageTracker is embedded by clients to keep thread-safe usage statistics
type usageTracker struct {
	mu    sync.RWMutex
	usage ProviderUsage
}

func newUsageTracker(p Provider) *usageTracker {
	return &usageTracker{usage: ProviderUsage{Provider: p, LastUsed: time.Now()}}
}

func (u *usageTracker) record(totalTokens int, cost float64, duration time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.usage.RequestCount++
	u.usage.TotalTokens += int64(totalTokens)
	u.usage.TotalCost += cost
	u.usage.AvgLatency = (u.usage.AvgLatency*float64(u.usage.RequestCount-1) + duration.Seconds()) / float64(u.usage.RequestCount)
	u.usage.LastUsed = time.Now()
}

func (u *usageTracker) recordError() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.ErrorCount++
}

// snapshot returns a copy
func (u *usageTracker) snapshot() *ProviderUsage {
	u.mu.RLock()
	defer u.mu.RUnlock()
	cp := u.usage
	return &cp
}
