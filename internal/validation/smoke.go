package validation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// reactPrelude installs just enough of React for a component to render once.
const reactPrelude = `
var __noop = function () {};
var console = { log: __noop, info: __noop, warn: __noop, error: __noop, debug: __noop };
var module = { exports: {} };
var exports = module.exports;
var React = {
  Fragment: "Fragment",
  createElement: function (type, props) {
    return { type: type, props: props || {}, children: Array.prototype.slice.call(arguments, 2) };
  },
  useState: function (init) { return [typeof init === "function" ? init() : init, __noop]; },
  useReducer: function (reducer, init, initFn) { return [initFn ? initFn(init) : init, __noop]; },
  useEffect: __noop,
  useLayoutEffect: __noop,
  useMemo: function (fn) { return fn(); },
  useCallback: function (fn) { return fn; },
  useRef: function (init) { return { current: init }; },
  useContext: function () { return undefined; },
  useId: function () { return "r0"; }
};
var useState = React.useState, useReducer = React.useReducer, useEffect = React.useEffect,
    useLayoutEffect = React.useLayoutEffect, useMemo = React.useMemo, useCallback = React.useCallback,
    useRef = React.useRef, useContext = React.useContext, useId = React.useId;
`

var (
	importLine     = regexp.MustCompile(`(?m)^\s*import\s[^\n]*$`)
	exportDefault  = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+`)
	exportDecl     = regexp.MustCompile(`(?m)^(\s*)export\s+(const|let|var|function|class|async)\b`)
	exportList     = regexp.MustCompile(`(?m)^\s*export\s*\{[^}]*\}\s*;?\s*$`)
	componentNames = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(?:export\s+(?:default\s+)?)?function\s+([A-Z][A-Za-z0-9_]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Z][A-Za-z0-9_]*)\s*=\s*(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Z][A-Za-z0-9_]*)\s*=\s*function\b`),
	}
	errSmokeTimeout = errors.New("smoke run timed out")
)

// componentName returns the first PascalCase function defined in code.
func componentName(code string) string {
	for _, re := range componentNames {
		if m := re.FindStringSubmatch(code); m != nil {
			return m[1]
		}
	}
	return ""
}

// toScript turns module-style output into a plain script goja can run.
func toScript(code string) string {
	code = importLine.ReplaceAllString(code, "")
	code = exportList.ReplaceAllString(code, "")
	code = exportDefault.ReplaceAllString(code, "$1")
	code = exportDecl.ReplaceAllString(code, "$1$2")
	return code
}

// wrapScript runs the component source in its own function scope so its
// declarations may shadow the prelude, and returns the component if found.
func wrapScript(script, name string) string {
	lookup := "undefined"
	if name != "" {
		lookup = fmt.Sprintf("typeof %[1]s === \"function\" ? %[1]s : undefined", name)
	}
	return "(function () {\n" + script + "\n;return " + lookup + ";\n})()"
}

// smokeRun evaluates transpiled JavaScript and renders its component once.
// Returned messages are runtime failures; an empty slice means the render
// completed.
func smokeRun(ctx context.Context, js string, limit time.Duration) (typeErrors, warnings []string) {
	if limit <= 0 {
		limit = 2 * time.Second
	}
	name := componentName(js)
	script := toScript(js)

	vm := goja.New()
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var (
		runErr   error
		rendered bool
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		if _, err := vm.RunString(reactPrelude); err != nil {
			runErr = err
			return
		}
		val, err := vm.RunString(wrapScript(script, name))
		if err != nil {
			runErr = err
			return
		}
		fn, ok := goja.AssertFunction(val)
		if !ok {
			return
		}
		if _, err := fn(goja.Undefined(), vm.NewObject()); err != nil {
			runErr = err
			return
		}
		rendered = true
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt("timeout")
		<-done
		runErr = errSmokeTimeout
	}

	switch {
	case errors.Is(runErr, errSmokeTimeout):
		return []string{fmt.Sprintf("runtime: component did not finish rendering within %s", limit)}, nil
	case runErr != nil:
		return []string{"runtime: " + exceptionMessage(runErr)}, nil
	case name == "":
		return nil, []string{"smoke run skipped: no component function found in transpiled output"}
	case !rendered:
		return nil, []string{fmt.Sprintf("smoke run skipped: %s is not callable", name)}
	}
	return nil, nil
}

func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return strings.TrimSpace(ex.Value().String())
	}
	return err.Error()
}
