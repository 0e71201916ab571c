package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

const maxSyntaxErrors = 10

// parseTSX reports ERROR and MISSING nodes as "line:col" syntax errors.
func parseTSX(ctx context.Context, code string) ([]string, *hookReport, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tsx.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, nil, fmt.Errorf("tsx parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var syntaxErrors []string
	if root.HasError() {
		collectErrors(root, src, &syntaxErrors)
		if len(syntaxErrors) == 0 {
			syntaxErrors = append(syntaxErrors, "1:1: source does not parse as TSX")
		}
	}
	hooks := &hookReport{}
	collectHooks(root, src, hooks)
	return syntaxErrors, hooks, nil
}

func collectErrors(n *sitter.Node, src []byte, out *[]string) {
	if len(*out) >= maxSyntaxErrors {
		return
	}
	switch {
	case n.IsMissing():
		p := n.StartPoint()
		*out = append(*out, fmt.Sprintf("%d:%d: missing %q", p.Row+1, p.Column+1, n.Type()))
		return
	case n.IsError():
		p := n.StartPoint()
		*out = append(*out, fmt.Sprintf("%d:%d: unexpected %q", p.Row+1, p.Column+1, snippet(n.Content(src))))
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectErrors(n.Child(i), src, out)
	}
}

func snippet(s string) string {
	return truncate(strings.Join(strings.Fields(s), " "), 40)
}

// hookReport lists hook calls found outside of any function body.
type hookReport struct {
	topLevel []string
	calls    int
}

var hookName = regexp.MustCompile(`^use[A-Z][A-Za-z0-9]*$`)

func collectHooks(n *sitter.Node, src []byte, r *hookReport) {
	if n.Type() == "call_expression" {
		if fn := n.ChildByFieldName("function"); fn != nil {
			name := fn.Content(src)
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			if hookName.MatchString(name) {
				r.calls++
				if !insideFunction(n) {
					p := n.StartPoint()
					r.topLevel = append(r.topLevel, fmt.Sprintf("%d:%d: %s called outside a component", p.Row+1, p.Column+1, name))
				}
			}
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectHooks(n.Child(i), src, r)
	}
}

func insideFunction(n *sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "function_declaration", "function", "function_expression", "arrow_function",
			"method_definition", "generator_function_declaration":
			return true
		}
	}
	return false
}

// Rule is a regex check over the component source.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
	Message  string
	// Absent inverts the rule so that it fires when the pattern is missing.
	Absent bool
}

// Severity decides which list a rule finding lands in
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeveritySuggestion
)

// DefaultRules are applied on every validation, whatever the method.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "component",
			Pattern:  regexp.MustCompile(`(?m)(function\s+[A-Z][A-Za-z0-9_]*\s*\(|(const|let|var)\s+[A-Z][A-Za-z0-9_]*\s*(:[^=]+)?=\s*(\([^)]*\)|[A-Za-z_$][\w$]*|function\b))`),
			Severity: SeverityError,
			Message:  "no React component function found (expected a PascalCase function)",
			Absent:   true,
		},
		{
			Name:     "eval",
			Pattern:  regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
			Severity: SeverityError,
			Message:  "dynamic code evaluation (eval / new Function) is not allowed",
		},
		{
			Name:     "import",
			Pattern:  regexp.MustCompile(`(?m)^\s*import\s`),
			Severity: SeverityWarning,
			Message:  "import statements are removed at runtime; React and its hooks are provided globally",
		},
		{
			Name:     "export-default",
			Pattern:  regexp.MustCompile(`(?m)^\s*export\s+default\b`),
			Severity: SeverityWarning,
			Message:  "export default is not needed; the component is looked up by name",
		},
		{
			Name:     "inner-html",
			Pattern:  regexp.MustCompile(`dangerouslySetInnerHTML`),
			Severity: SeverityWarning,
			Message:  "dangerouslySetInnerHTML allows script injection",
		},
		{
			Name:     "network",
			Pattern:  regexp.MustCompile(`\bfetch\s*\(|XMLHttpRequest|\baxios\b`),
			Severity: SeverityWarning,
			Message:  "tools should be self-contained and not perform network requests",
		},
		{
			Name:     "storage",
			Pattern:  regexp.MustCompile(`\b(localStorage|sessionStorage|indexedDB)\b`),
			Severity: SeverityWarning,
			Message:  "browser storage may be unavailable in the tool sandbox",
		},
		{
			Name:     "console",
			Pattern:  regexp.MustCompile(`\bconsole\.(log|debug)\s*\(`),
			Severity: SeveritySuggestion,
			Message:  "remove console logging before publishing",
		},
		{
			Name:     "tailwind",
			Pattern:  regexp.MustCompile(`className\s*=`),
			Severity: SeveritySuggestion,
			Message:  "no className attributes found; apply Tailwind classes for styling",
			Absent:   true,
		},
		{
			Name:     "any",
			Pattern:  regexp.MustCompile(`:\s*any\b`),
			Severity: SeveritySuggestion,
			Message:  "prefer concrete types over any",
		},
	}
}

// findings groups rule output by severity
type findings struct {
	errors      []string
	warnings    []string
	suggestions []string
}

func applyRules(rules []Rule, code string) findings {
	var f findings
	for _, r := range rules {
		hit := r.Pattern.MatchString(code)
		if r.Absent {
			hit = !hit
		}
		if !hit {
			continue
		}
		switch r.Severity {
		case SeverityError:
			f.errors = append(f.errors, r.Message)
		case SeverityWarning:
			f.warnings = append(f.warnings, r.Message)
		default:
			f.suggestions = append(f.suggestions, r.Message)
		}
	}
	return f
}

// braceBalance counts braces, brackets and parens outside strings and
// comments. It only runs when the parser is unavailable.
func braceBalance(code string) []string {
	pairs := map[rune]rune{'}': '{', ']': '[', ')': '('}
	var stack []rune
	var quote rune
	line, col := 1, 0
	rs := []rune(code)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		col++
		if c == '\n' {
			line++
			col = 0
		}
		if quote != 0 {
			if c == '\\' {
				i++
				col++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '/' && i+1 < len(rs) && rs[i+1] == '/':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			line++
			col = 0
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				if rs[i] == '\n' {
					line++
				}
				i++
			}
			i++
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '{' || c == '[' || c == '(':
			stack = append(stack, c)
		case c == '}' || c == ']' || c == ')':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return []string{fmt.Sprintf("%d:%d: unbalanced %q", line, col, string(c))}
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return []string{fmt.Sprintf("%d unclosed %q at end of input", len(stack), string(stack[len(stack)-1]))}
	}
	return nil
}
