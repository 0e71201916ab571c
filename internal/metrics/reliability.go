package metrics

import (
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	labelSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

	jobFinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "reliability",
			Name:      "job_finalizations_total",
			Help:      "Total number of finished generation jobs by status, failing step and mode",
		},
		[]string{"status", "step", "mode"},
	)

	transpilerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "reliability",
			Name:      "transpiler_fallbacks_total",
			Help:      "Validations that fell back to local checks, by reason",
		},
		[]string{"reason"},
	)
)

// RecordJobFinalization counts a job reaching a terminal state. step is the
// failing step for errored jobs and "completed" otherwise.
func RecordJobFinalization(status, step, mode string) {
	jobFinalizationsTotal.WithLabelValues(
		sanitizeLabel(status),
		sanitizeLabel(step),
		sanitizeLabel(mode),
	).Inc()
}

// RecordTranspilerFallback counts a validation that could not use the
// transpile service.
func RecordTranspilerFallback(reason string) {
	transpilerFallbacksTotal.WithLabelValues(sanitizeLabel(reason)).Inc()
}

func sanitizeLabel(raw string) string {
	const fallback = "unknown"
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return fallback
	}
	s = labelSanitizer.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return fallback
	}
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
