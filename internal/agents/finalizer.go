package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"keyvex/internal/logging"
	"keyvex/internal/tcc"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// ToolFinalizer packages the component into a tool definition and archives it
type ToolFinalizer struct {
	llmAgent
	archive ToolArchiver
	now     func() time.Time
}

func NewToolFinalizer(gen ModelGenerator, archive ToolArchiver) *ToolFinalizer {
	return &ToolFinalizer{
		llmAgent: llmAgent{name: NameToolFinalizer, step: tcc.StepFinalizeTool, gen: gen},
		archive:  archive,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *ToolFinalizer) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if t.AssembledComponentCode == "" {
		return nil, missing("assembledComponentCode")
	}
	if t.ValidationResult == nil {
		return nil, missing("validationResult")
	}
	log := logging.ForJob(t.JobID, a.name)

	prompt := describeRequest(t.UserInput) + section("Validation", t.ValidationResult)
	if len(t.DefinedFunctionSignatures) > 0 {
		prompt += section("Functions", t.DefinedFunctionSignatures)
	}
	var meta tcc.ToolMetadata
	if err := a.generate(ctx, t, "toolMetadata", toolFinalizerSystem, prompt, &meta); err != nil {
		// the component is done; a metadata failure should not lose it
		log.Warn("using derived metadata", zap.Error(err))
		meta = derivedMetadata(t.UserInput)
	}
	if len(meta.Dependencies) == 0 {
		meta.Dependencies = []string{"react"}
	}

	def := &tcc.ToolDefinition{
		ID:            uuid.New().String(),
		Slug:          slugFor(meta.Title, t.JobID),
		JobID:         t.JobID,
		Metadata:      meta,
		ComponentCode: t.AssembledComponentCode,
		Validation:    t.ValidationResult,
		CreatedAt:     a.now(),
	}
	if t.Styling != nil {
		def.StyleMap = t.Styling.StyleMap
		def.ColorScheme = t.Styling.ColorScheme
	}

	if a.archive != nil {
		if err := a.archive.SaveTool(ctx, def); err != nil {
			log.Warn("tool archive failed", zap.Error(err))
		}
	}

	out := t.Clone()
	out.FinalProduct = def
	return out, nil
}

// derivedMetadata builds metadata from the request alone
func derivedMetadata(in tcc.UserInput) tcc.ToolMetadata {
	kind := in.ToolType
	if kind == "" {
		kind = "tool"
	}
	title := in.Description
	if i := strings.IndexAny(title, ".\n"); i > 0 {
		title = title[:i]
	}
	if utf8.RuneCountInString(title) > 60 {
		title = strings.TrimSpace(string([]rune(title)[:60]))
	}
	if title == "" {
		title = "Generated " + kind
	}
	first, size := utf8.DecodeRuneInString(title)
	meta := tcc.ToolMetadata{
		Title:            string(unicode.ToUpper(first)) + title[size:],
		Description:      in.Description,
		UserInstructions: fmt.Sprintf("Fill in the fields of this %s to see your results update instantly.", kind),
		Category:         kind,
	}
	if in.TargetAudience != "" {
		meta.DeveloperNotes = "Intended for " + in.TargetAudience
	}
	return meta
}

func slugFor(title, jobID string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(s) > 48 {
		s = strings.Trim(s[:48], "-")
	}
	suffix := jobID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if s == "" {
		return "tool-" + suffix
	}
	return s + "-" + suffix
}
