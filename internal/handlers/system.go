// Keyvex System Handlers
// Health and runtime information

package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"keyvex/internal/artifacts"
	"keyvex/internal/store"

	"github.com/gin-gonic/gin"
)

// Health reports liveness plus a snapshot of the pipeline's dependencies.
// It always answers 200 while the process is serving.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	info := gin.H{
		"status":     "healthy",
		"service":    "keyvex",
		"uptime":     time.Since(startTime).String(),
		"goroutines": runtime.NumGoroutine(),
		"timestamp":  time.Now().UTC(),
	}

	if counter, ok := h.Store.(interface {
		CountByStatus(context.Context) (map[string]int, error)
	}); ok {
		if counts, err := counter.CountByStatus(ctx); err == nil {
			info["jobs"] = counts
		}
	}
	deep := c.Query("deep") == "true"
	if h.AIRouter != nil {
		if deep {
			info["providers"] = h.AIRouter.Health(ctx)
		} else {
			info["providers"] = h.AIRouter.Providers()
		}
	}
	if deep && len(h.Checks) > 0 {
		deps := make(map[string]string, len(h.Checks))
		for name, check := range h.Checks {
			deps[name] = "ok"
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
			}
		}
		info["dependencies"] = deps
	}
	if h.Validator != nil {
		info["validationCache"] = h.Validator.CacheStats()
	}
	if h.Archive != nil {
		info["artifacts"] = h.Archive.Backend()
	}

	c.JSON(http.StatusOK, info)
}

func isNotFound(err error) bool {
	return errors.Is(err, artifacts.ErrNotFound) || errors.Is(err, store.ErrNotFound)
}
