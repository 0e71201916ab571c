package agents

import (
	"context"

	"keyvex/internal/logging"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

// Validator checks the assembled component without calling a model. An
// invalid component does not fail the step; the result travels with the tool.
type Validator struct {
	checker CodeValidator
}

func NewValidator(checker CodeValidator) *Validator {
	return &Validator{checker: checker}
}

func (a *Validator) Name() string   { return NameValidator }
func (a *Validator) Step() tcc.Step { return tcc.StepValidateCode }

func (a *Validator) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if t.AssembledComponentCode == "" {
		return nil, missing("assembledComponentCode")
	}
	result := a.checker.Validate(ctx, t.AssembledComponentCode)

	logging.ForJob(t.JobID, NameValidator).Info("component validated",
		zap.Bool("valid", result.IsValid),
		zap.String("method", result.Method),
		zap.Int("syntax_errors", len(result.SyntaxErrors)),
		zap.Int("type_errors", len(result.TypeErrors)),
		zap.Int("warnings", len(result.Warnings)),
	)

	out := t.Clone()
	out.ValidationResult = &result
	return out, nil
}
