// Package ranking picks the resume that best fits a job description.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

// ErrNoResumes is returned when selection is attempted on an empty set.
var ErrNoResumes = errors.New("no resumes loaded")

// DefaultTruncateChars bounds the job description and every resume text in
// the ranking prompt.
const DefaultTruncateChars = 2000

const maxLogLength = 200

//go:embed prompt.md
var promptTemplate string

// Ranker selects resumes with a language model.
type Ranker struct {
	generator ai.Generator
	truncate  int
	logger    *zap.Logger
}

func NewRanker(generator ai.Generator, truncateChars int, log *zap.Logger) *Ranker {
	if truncateChars <= 0 {
		truncateChars = DefaultTruncateChars
	}

	model := ""
	if generator != nil {
		model = generator.Model()
	}

	return &Ranker{
		generator: generator,
		truncate:  truncateChars,
		logger:    logger.WithComponent(logger.WithFields(log, zap.String(logger.FieldModel, model)), "ranker"),
	}
}

// SelectBest returns the absolute path of the resume that best matches the
// job description. Ambiguous or failed model answers fall back to the first
// resume; only an empty set is an error.
func (r *Ranker) SelectBest(ctx context.Context, jobDescription string, resumes *documents.ResumeSet) (string, error) {
	first, ok := resumes.First()
	if !ok {
		return "", ErrNoResumes
	}

	if resumes.Len() == 1 {
		r.logger.Info("only one resume found", zap.String("resume", first.Path))
		return first.Path, nil
	}

	prompt := r.buildPrompt(jobDescription, resumes)

	r.logger.Debug("ranking resumes",
		zap.Int("resumes", resumes.Len()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
	)

	raw, err := r.generator.Generate(ctx, "", prompt)
	if err != nil {
		r.logger.Error("error ranking resumes, falling back to the first resume", zap.Error(err))
		return first.Path, nil
	}

	selected := strings.TrimSpace(raw)
	r.logger.Info("model selected resume id", zap.String("id", utils.TruncateForLog(selected, maxLogLength)))

	id, err := strconv.Atoi(selected)
	if err != nil {
		r.logger.Warn("could not parse selected id, falling back to the first resume",
			zap.String("id", utils.TruncateForLog(selected, maxLogLength)),
		)
		return first.Path, nil
	}

	resume, ok := resumes.Lookup(id)
	if !ok {
		r.logger.Warn("selected id is out of range, falling back to the first resume",
			zap.Int("id", id),
			zap.Int("resumes", resumes.Len()),
		)
		return first.Path, nil
	}

	return resume.Path, nil
}

func (r *Ranker) buildPrompt(jobDescription string, resumes *documents.ResumeSet) string {
	var listing strings.Builder
	for _, resume := range resumes.All() {
		fmt.Fprintf(&listing, "Resume ID: %d\nFile: %s\nContent:\n%s\n\n",
			resume.Ordinal, resume.Path, utils.Truncate(resume.Text, r.truncate))
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{JOB_DESCRIPTION}}", utils.Truncate(jobDescription, r.truncate))
	return strings.ReplaceAll(prompt, "{{RESUMES}}", listing.String())
}
