package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validComponent = `import React, { useState } from 'react';

export default function LoanCalculator() {
  const [amount, setAmount] = useState<number>(1000);
  return (
    <div className="p-4">
      <input value={amount} onChange={(e) => setAmount(Number(e.target.value))} />
    </div>
  );
}
`

const transpiledComponent = `function LoanCalculator() {
  const [amount, setAmount] = useState(1000);
  return React.createElement("div", { className: "p-4" },
    React.createElement("input", { value: amount, onChange: (e) => setAmount(Number(e.target.value)) }));
}
`

func newTestValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	v := New(cfg)
	t.Cleanup(v.Close)
	return v
}

func transpileServer(t *testing.T, calls *int32, handler func(req TranspileRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req TranspileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidate_FallbackValidComponent(t *testing.T) {
	v := newTestValidator(t, Config{})

	result := v.Validate(context.Background(), validComponent)

	assert.True(t, result.IsValid, "syntax=%v type=%v", result.SyntaxErrors, result.TypeErrors)
	assert.Equal(t, MethodFallback, result.Method)
	assert.Empty(t, result.SyntaxErrors)
	assert.Empty(t, result.TypeErrors)
	assert.Contains(t, result.Warnings, "import statements are removed at runtime; React and its hooks are provided globally")
	assert.Contains(t, result.Warnings, "export default is not needed; the component is looked up by name")
	assert.False(t, result.CheckedAt.IsZero())
}

func TestValidate_FallbackSyntaxError(t *testing.T) {
	v := newTestValidator(t, Config{})

	result := v.Validate(context.Background(), "function Broken() {\n  return (<div className=\"x\">;\n}\n")

	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.SyntaxErrors)
	assert.Regexp(t, `^\d+:\d+: `, result.SyntaxErrors[0])
}

func TestValidate_HookOutsideComponent(t *testing.T) {
	v := newTestValidator(t, Config{})

	code := "const [count, setCount] = useState(0);\nfunction Widget() {\n  return <div className=\"a\">{count}</div>;\n}\n"
	result := v.Validate(context.Background(), code)

	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.TypeErrors, "\n"), "useState called outside a component")
}

func TestValidate_Rules(t *testing.T) {
	v := newTestValidator(t, Config{})

	t.Run("eval is rejected", func(t *testing.T) {
		code := "function Widget() {\n  const x = eval('1 + 1');\n  return <div className=\"a\">{x}</div>;\n}\n"
		result := v.Validate(context.Background(), code)
		assert.False(t, result.IsValid)
		assert.Contains(t, result.TypeErrors, "dynamic code evaluation (eval / new Function) is not allowed")
	})

	t.Run("component is required", func(t *testing.T) {
		result := v.Validate(context.Background(), "const total = 1 + 2;\n")
		assert.False(t, result.IsValid)
		assert.Contains(t, result.TypeErrors, "no React component function found (expected a PascalCase function)")
	})

	t.Run("warnings do not invalidate", func(t *testing.T) {
		code := "function Widget() {\n  fetch('/api');\n  return <div className=\"a\" />;\n}\n"
		result := v.Validate(context.Background(), code)
		assert.True(t, result.IsValid)
		assert.Contains(t, result.Warnings, "tools should be self-contained and not perform network requests")
	})
}

func TestValidate_EmptyCode(t *testing.T) {
	v := newTestValidator(t, Config{})

	result := v.Validate(context.Background(), "   ")

	assert.False(t, result.IsValid)
	assert.Equal(t, []string{"component code is empty"}, result.SyntaxErrors)
}

func TestValidate_TranspilerSuccess(t *testing.T) {
	var calls int32
	var got TranspileRequest
	srv := transpileServer(t, &calls, func(req TranspileRequest) (int, any) {
		got = req
		return http.StatusOK, map[string]any{"success": true, "code": transpiledComponent, "errors": []any{}, "warnings": []any{}}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL})

	result := v.Validate(context.Background(), validComponent)

	assert.Equal(t, MethodTranspiler, result.Method)
	assert.True(t, result.IsValid, "syntax=%v type=%v", result.SyntaxErrors, result.TypeErrors)
	assert.Equal(t, "tsx", got.Loader)
	assert.Equal(t, "Component.tsx", got.Filename)
	assert.Equal(t, validComponent, got.Code)
}

func TestValidate_TranspilerErrors(t *testing.T) {
	var calls int32
	srv := transpileServer(t, &calls, func(TranspileRequest) (int, any) {
		return http.StatusOK, map[string]any{
			"success":  false,
			"errors":   []any{map[string]any{"text": `Expected ";" but found "x"`, "location": map[string]any{"line": 2, "column": 5}}},
			"warnings": []any{"unused variable"},
		}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL})

	result := v.Validate(context.Background(), validComponent)

	assert.Equal(t, MethodTranspiler, result.Method)
	assert.False(t, result.IsValid)
	assert.Equal(t, []string{`2:5: Expected ";" but found "x"`}, result.SyntaxErrors)
	assert.Contains(t, result.Warnings, "unused variable")
}

func TestValidate_SmokeRunRuntimeError(t *testing.T) {
	var calls int32
	srv := transpileServer(t, &calls, func(TranspileRequest) (int, any) {
		js := "function LoanCalculator() {\n  const settings = undefined;\n  return settings.rate;\n}\n"
		return http.StatusOK, map[string]any{"success": true, "code": js}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL})

	result := v.Validate(context.Background(), validComponent)

	assert.False(t, result.IsValid)
	require.Len(t, result.TypeErrors, 1)
	assert.True(t, strings.HasPrefix(result.TypeErrors[0], "runtime: "), result.TypeErrors[0])
}

func TestValidate_SmokeRunTimeout(t *testing.T) {
	var calls int32
	srv := transpileServer(t, &calls, func(TranspileRequest) (int, any) {
		return http.StatusOK, map[string]any{"success": true, "code": "function LoanCalculator() { while (true) {} }"}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL, SmokeRunTimeout: 100 * time.Millisecond})

	result := v.Validate(context.Background(), validComponent)

	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.TypeErrors, "\n"), "did not finish rendering")
}

func TestValidate_FallsBackOnServerError(t *testing.T) {
	var calls int32
	srv := transpileServer(t, &calls, func(TranspileRequest) (int, any) {
		return http.StatusBadGateway, map[string]any{"error": "upstream"}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL})

	first := v.Validate(context.Background(), validComponent)
	second := v.Validate(context.Background(), validComponent)

	assert.Equal(t, MethodFallback, first.Method)
	assert.True(t, first.IsValid)
	assert.Equal(t, MethodFallback, second.Method)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "fallback results are not cached")
}

func TestValidate_FallsBackOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	v := newTestValidator(t, Config{TranspilerURL: srv.URL, TranspilerTimeout: 50 * time.Millisecond})

	start := time.Now()
	result := v.Validate(context.Background(), validComponent)

	assert.Equal(t, MethodFallback, result.Method)
	assert.Less(t, time.Since(start), time.Second)
}

func TestValidate_CachesTranspilerResults(t *testing.T) {
	var calls int32
	srv := transpileServer(t, &calls, func(TranspileRequest) (int, any) {
		return http.StatusOK, map[string]any{"success": true, "code": transpiledComponent}
	})
	v := newTestValidator(t, Config{TranspilerURL: srv.URL})

	first := v.Validate(context.Background(), validComponent)
	first.Warnings = append(first.Warnings, "mutated by caller")
	second := v.Validate(context.Background(), validComponent)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.NotContains(t, second.Warnings, "mutated by caller")
	assert.Equal(t, int64(1), v.CacheStats().Hits)
}

func TestDiagnosticDecoding(t *testing.T) {
	var diags []Diagnostic
	raw := `["plain", {"message": "msg", "line": 3, "column": 1}, {"text": "txt", "location": {"line": 7, "column": 9}}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &diags))
	require.Len(t, diags, 3)
	assert.Equal(t, "plain", diags[0].String())
	assert.Equal(t, "3:1: msg", diags[1].String())
	assert.Equal(t, "7:9: txt", diags[2].String())
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet("  a\n\tb "))

	long := strings.Repeat("ü", 39) + "€€€"
	got := snippet(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ü", 39)+"€...", got)
}
