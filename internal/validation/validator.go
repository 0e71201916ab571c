// Package validation checks generated component code. It prefers an external
// transpile service and falls back to a local tree-sitter parse when the
// service is unset or unavailable.
package validation

import (
	"context"
	"strings"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

const (
	MethodTranspiler = "transpiler"
	MethodFallback   = "fallback"
)

// Config controls a Validator
type Config struct {
	TranspilerURL     string
	TranspilerTimeout time.Duration
	SmokeRunTimeout   time.Duration
	Rules             []Rule
	Cache             CacheConfig
	DisableCache      bool
}

// Validator implements agents.CodeValidator
type Validator struct {
	transpiler *TranspilerClient
	smokeLimit time.Duration
	rules      []Rule
	cache      *ResultCache
	now        func() time.Time
}

// New creates a Validator. Call Close to release the result cache.
func New(cfg Config) *Validator {
	v := &Validator{
		smokeLimit: cfg.SmokeRunTimeout,
		rules:      cfg.Rules,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if strings.TrimSpace(cfg.TranspilerURL) != "" {
		v.transpiler = NewTranspilerClient(cfg.TranspilerURL, cfg.TranspilerTimeout)
	}
	if v.rules == nil {
		v.rules = DefaultRules()
	}
	if !cfg.DisableCache {
		v.cache = NewResultCache(cfg.Cache)
	}
	return v
}

// Close stops background work
func (v *Validator) Close() {
	if v.cache != nil {
		v.cache.Close()
	}
}

// CacheStats reports result cache usage; zero when the cache is disabled.
func (v *Validator) CacheStats() CacheStats {
	if v.cache == nil {
		return CacheStats{}
	}
	return v.cache.Stats()
}

// Validate never returns an error: every failure is reported inside the
// result.
func (v *Validator) Validate(ctx context.Context, code string) tcc.ValidationResult {
	mode := MethodFallback
	if v.transpiler != nil {
		mode = MethodTranspiler
	}
	key := cacheKey(mode, code)
	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			return cached
		}
	}

	var result tcc.ValidationResult
	cacheable := true
	if strings.TrimSpace(code) == "" {
		result = tcc.ValidationResult{Method: mode, SyntaxErrors: []string{"component code is empty"}}
	} else if v.transpiler != nil {
		var ok bool
		result, ok = v.viaTranspiler(ctx, code)
		if !ok {
			result = v.viaFallback(ctx, code)
			// the service may be back next time
			cacheable = false
		}
	} else {
		result = v.viaFallback(ctx, code)
	}

	result = normalize(result)
	result.IsValid = len(result.SyntaxErrors) == 0 && len(result.TypeErrors) == 0
	result.CheckedAt = v.now()
	metrics.Get().RecordValidation(result.Method, result.IsValid)

	if v.cache != nil && cacheable && ctx.Err() == nil {
		v.cache.Set(key, result)
	}
	return result
}

func (v *Validator) viaTranspiler(ctx context.Context, code string) (tcc.ValidationResult, bool) {
	resp, reason, err := v.transpiler.Transpile(ctx, code)
	if err != nil {
		metrics.RecordTranspilerFallback(reason)
		logging.L().Warn("transpiler unavailable, using local validation",
			zap.String("reason", reason), zap.Error(err))
		return tcc.ValidationResult{}, false
	}

	result := tcc.ValidationResult{Method: MethodTranspiler}
	for _, d := range resp.Errors {
		result.SyntaxErrors = append(result.SyntaxErrors, d.String())
	}
	for _, d := range resp.Warnings {
		result.Warnings = append(result.Warnings, d.String())
	}
	if !resp.Success && len(result.SyntaxErrors) == 0 {
		result.SyntaxErrors = append(result.SyntaxErrors, "transpilation failed")
	}

	v.lint(ctx, code, &result, false)

	if resp.Success && strings.TrimSpace(resp.Code) != "" && len(result.SyntaxErrors) == 0 {
		typeErrs, warns := smokeRun(ctx, resp.Code, v.smokeLimit)
		result.TypeErrors = append(result.TypeErrors, typeErrs...)
		result.Warnings = append(result.Warnings, warns...)
	}
	return result, true
}

func (v *Validator) viaFallback(ctx context.Context, code string) tcc.ValidationResult {
	result := tcc.ValidationResult{Method: MethodFallback}
	v.lint(ctx, code, &result, true)
	return result
}

// lint applies the parser (syntax only when withSyntax) and the rule set.
func (v *Validator) lint(ctx context.Context, code string, result *tcc.ValidationResult, withSyntax bool) {
	syntaxErrs, hooks, err := parseTSX(ctx, code)
	if err != nil {
		logging.L().Warn("tsx parser unavailable", zap.Error(err))
		if withSyntax {
			result.SyntaxErrors = append(result.SyntaxErrors, braceBalance(code)...)
		}
	} else {
		if withSyntax {
			result.SyntaxErrors = append(result.SyntaxErrors, syntaxErrs...)
		}
		result.TypeErrors = append(result.TypeErrors, hooks.topLevel...)
		if hooks.calls == 0 {
			result.Suggestions = append(result.Suggestions, "component uses no hooks; interactive tools usually keep state with useState")
		}
	}

	f := applyRules(v.rules, code)
	result.TypeErrors = append(result.TypeErrors, f.errors...)
	result.Warnings = append(result.Warnings, f.warnings...)
	result.Suggestions = append(result.Suggestions, f.suggestions...)
}

// normalize replaces nil slices so the JSON form always carries arrays.
func normalize(r tcc.ValidationResult) tcc.ValidationResult {
	if r.SyntaxErrors == nil {
		r.SyntaxErrors = []string{}
	}
	if r.TypeErrors == nil {
		r.TypeErrors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if r.Suggestions == nil {
		r.Suggestions = []string{}
	}
	return r
}
