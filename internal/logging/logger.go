// Package logging provides structured logging for Keyvex.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
	mu     sync.RWMutex
)

// Init initializes the global logger. Safe to call multiple times.
func Init() {
	once.Do(func() {
		var cfg zap.Config
		if isProduction() {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := zapcore.ParseLevel(lvl); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}

		built, err := cfg.Build()
		if err != nil {
			built = zap.NewNop()
		}
		mu.Lock()
		logger = built
		mu.Unlock()
	})
}

func isProduction() bool {
	for _, key := range []string{"GO_ENV", "KEYVEX_ENV", "ENVIRONMENT", "ENV"} {
		if v := os.Getenv(key); v != "" {
			v = strings.ToLower(v)
			return v == "production" || v == "prod"
		}
	}
	return false
}

// L returns the global structured logger
func L() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		Init()
		mu.RLock()
		l = logger
		mu.RUnlock()
	}
	return l
}

// Replace swaps the global logger. Tests use it with zaptest or zap.NewNop.
func Replace(l *zap.Logger) {
	once.Do(func() {})
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

// ForJob returns a logger tagged with the job and, when set, the agent name.
func ForJob(jobID, agent string) *zap.Logger {
	if agent == "" {
		return L().With(zap.String("job_id", jobID))
	}
	return L().With(zap.String("job_id", jobID), zap.String("agent", agent))
}
