package agents

import (
	"fmt"
	"strings"

	"keyvex/internal/tcc"
)

const (
	functionPlannerSystem = `You design interactive business tools built as a single React component.
List the event handlers and computation functions the component needs.
Reply with JSON: {"signatures":[{"name":"...","description":"..."}]}.`

	stateDesignSystem = `You write React state logic for a single function component using hooks.
Declare every useState variable and implement every planned function.
Reply with JSON: {"stateVariables":[{"name","type","initialValue","description"}],"functions":[{"name","body","dependencies","description"}],"imports":[]}.`

	jsxLayoutSystem = `You design accessible JSX layouts for React business tools. Do not add styling beyond placeholder class names.
Every interactive element needs a stable data-element-id.
Reply with JSON: {"componentStructure":"<jsx>","elementMap":[{"elementId","type","purpose","placeholderClasses"}],"accessibilityFeatures":[],"responsiveBreakpoints":[]}.`

	tailwindStylingSystem = `You style JSX with Tailwind CSS utility classes only.
Replace placeholder classes, keep element ids and structure intact.
Reply with JSON: {"styledComponentCode":"<jsx>","styleMap":{"elementId":"classes"},"colorScheme":{"primary","secondary","background","text","accent"},"designTokens":{}}.`

	componentAssemblerSystem = `You assemble a complete React function component from state logic and styled JSX.
React and its hooks are provided as globals: do not write import or export statements.
Use React.createElement-compatible JSX and declare the component as "function ToolComponent()".
Reply with JSON: {"finalComponentCode":"..."}.`

	toolFinalizerSystem = `You write product metadata for a generated business tool.
Reply with JSON: {"title","description","userInstructions","developerNotes","category","dependencies":[]}.`
)

func describeRequest(in tcc.UserInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Tool request\n%s\n", in.Description)
	if in.ToolType != "" {
		fmt.Fprintf(&b, "Tool type: %s\n", in.ToolType)
	}
	if in.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", in.TargetAudience)
	}
	if in.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", in.Industry)
	}
	if len(in.Features) > 0 {
		fmt.Fprintf(&b, "Requested features:\n- %s\n", strings.Join(in.Features, "\n- "))
	}
	return b.String()
}
