package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComponentName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"function Quiz() { return null; }", "Quiz"},
		{"export default function ROICalculator(props) {}", "ROICalculator"},
		{"const helper = 1;\nconst Planner = () => null;", "Planner"},
		{"export const Planner = (props) => null;", "Planner"},
		{"var Widget = function () { return null; };", "Widget"},
		{"function helper() {}", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, componentName(tt.code), tt.code)
	}
}

func TestToScript(t *testing.T) {
	code := "import React from 'react';\nexport default function Quiz() {}\nexport const x = 1;\nexport { x };\n"
	got := toScript(code)
	assert.NotContains(t, got, "import")
	assert.NotContains(t, got, "export")
	assert.Contains(t, got, "function Quiz() {}")
	assert.Contains(t, got, "const x = 1;")
}

func TestSmokeRun(t *testing.T) {
	ctx := context.Background()

	t.Run("renders with hook stubs", func(t *testing.T) {
		js := `function Quiz() {
  const [step, setStep] = useState(() => 0);
  const ref = useRef(null);
  const total = useMemo(() => step + 1, [step]);
  useEffect(() => { throw new Error("effects are not run"); }, []);
  return React.createElement(React.Fragment, null, total, ref.current);
}`
		typeErrs, warns := smokeRun(ctx, js, time.Second)
		assert.Empty(t, typeErrs)
		assert.Empty(t, warns)
	})

	t.Run("exception becomes type error", func(t *testing.T) {
		typeErrs, _ := smokeRun(ctx, `function Quiz() { throw new TypeError("bad"); }`, time.Second)
		assert.Equal(t, []string{"runtime: TypeError: bad"}, typeErrs)
	})

	t.Run("script error", func(t *testing.T) {
		typeErrs, _ := smokeRun(ctx, `missingGlobal.call();`, time.Second)
		assert.Len(t, typeErrs, 1)
	})

	t.Run("no component warns", func(t *testing.T) {
		typeErrs, warns := smokeRun(ctx, `var x = 1;`, time.Second)
		assert.Empty(t, typeErrs)
		assert.Len(t, warns, 1)
	})
}

func TestBraceBalance(t *testing.T) {
	assert.Empty(t, braceBalance("function A() { return [1, (2)]; }"))
	assert.Empty(t, braceBalance("const s = '}'; // )\n/* ] */ const t = `{`;"))
	assert.Equal(t, []string{"1:14: unbalanced \")\""}, braceBalance("function A() ) {}"))
	assert.Equal(t, []string{"1 unclosed \"{\" at end of input"}, braceBalance("function A() {"))
}
