// Package fit judges whether a candidate profile suits a job description.
package fit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// DefaultReasoning is reported when the judgment could not be obtained.
const DefaultReasoning = "Defaulting to True due to analysis error."

const maxLogLength = 200

// Analysis is a fit judgment.
type Analysis struct {
	IsFit     bool   `json:"is_fit"`
	Reasoning string `json:"reasoning"`
}

//go:embed prompt.md
var promptTemplate string

const analysisSchema = `{
	"type": "object",
	"required": ["is_fit", "reasoning"],
	"properties": {
		"is_fit": {"type": "boolean"},
		"reasoning": {"type": "string"}
	}
}`

var analysisSchemaLoader = gojsonschema.NewStringLoader(analysisSchema)

// Evaluator asks a model for a structured fit judgment.
type Evaluator struct {
	generator ai.JSONGenerator
	logger    *zap.Logger
}

func NewEvaluator(generator ai.JSONGenerator, log *zap.Logger) *Evaluator {
	return &Evaluator{generator: generator, logger: logger.WithComponent(log, "fit")}
}

// Evaluate never fails: any error yields a positive judgment with
// DefaultReasoning.
func (e *Evaluator) Evaluate(ctx context.Context, profileSummary, jobDescription string) Analysis {
	analysis, err := e.evaluate(ctx, profileSummary, jobDescription)
	if err != nil {
		e.logger.Error("error analyzing job fit", zap.Error(err))
		return Analysis{IsFit: true, Reasoning: DefaultReasoning}
	}

	e.logger.Info("job fit analyzed",
		zap.Bool("is_fit", analysis.IsFit),
		zap.String("reasoning", utils.TruncateForLog(analysis.Reasoning, maxLogLength)),
	)
	return analysis
}

func (e *Evaluator) evaluate(ctx context.Context, profileSummary, jobDescription string) (Analysis, error) {
	if e.generator == nil {
		return Analysis{}, fmt.Errorf("fit evaluator has no model")
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{PROFILE}}", profileSummary)
	prompt = strings.ReplaceAll(prompt, "{{JOB_DESCRIPTION}}", jobDescription)

	e.logger.Debug("fit analysis request", zap.Int("prompt_length", utf8.RuneCountInString(prompt)))

	raw, err := e.generator.GenerateJSON(ctx, "", prompt)
	if err != nil {
		return Analysis{}, err
	}

	e.logger.Debug("fit analysis response", zap.String("response_preview", utils.TruncateForLog(raw, maxLogLength)))

	return parseAnalysis(raw)
}

func parseAnalysis(raw string) (Analysis, error) {
	cleaned := ai.ExtractJSON(raw)

	result, err := gojsonschema.Validate(analysisSchemaLoader, gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return Analysis{}, fmt.Errorf("parse fit response: %w", err)
	}
	if !result.Valid() {
		return Analysis{}, fmt.Errorf("parse fit response: unexpected shape: %v", result.Errors())
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("parse fit response: %w", err)
	}
	analysis.Reasoning = strings.TrimSpace(analysis.Reasoning)
	return analysis, nil
}
