package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/spigell/auto-applier/internal/agent"
	"github.com/spigell/auto-applier/internal/ranking"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

const (
	reasonAlreadySubmitted = "already submitted"
	reasonNotAFit          = "job is not a fit"
	defaultProfileChars    = 2000
	defaultExtractSteps    = 15
)

//go:embed apply_task.md
var applyTaskTemplate string

//go:embed extract_task.md
var extractTaskTemplate string

// Step is one stage of the application flow.
type Step interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(ctx context.Context, deps Deps, r *Result) error
}

// Status describes a step for display.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
}

// Describe returns status entries for the provided steps.
func Describe(steps []Step) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		status := Status{Name: step.Name(), Enabled: step.IsEnabled()}
		if t, ok := step.(interface{ reason() string }); ok {
			status.Reason = t.reason()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// DisableByName marks the step with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Step, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// DefaultSteps returns the flow
// history -> extract description -> select resume -> [evaluate fit] -> build tools -> form fill.
func DefaultSteps(opts Options) []Step {
	if opts.ProfileChars <= 0 {
		opts.ProfileChars = defaultProfileChars
	}
	if opts.ExtractMaxSteps <= 0 {
		opts.ExtractMaxSteps = defaultExtractSteps
	}

	historyStep := &appliedHistoryStep{}
	if opts.Force {
		historyStep.Disable("force flag is set")
	}

	fitStep := &evaluateFitStep{skipUnfit: opts.SkipUnfit, profileChars: opts.ProfileChars}
	if !opts.EvaluateFit {
		fitStep.Disable("fit evaluation is not enabled")
	}

	return []Step{
		historyStep,
		&extractDescriptionStep{maxSteps: opts.ExtractMaxSteps},
		&selectResumeStep{},
		fitStep,
		&buildToolsStep{},
		&formFillStep{},
	}
}

// toggle implements the enable/disable part of Step.
type toggle struct {
	disabled bool
	why      string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.why = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

func (t *toggle) reason() string { return t.why }

type appliedHistoryStep struct {
	toggle
}

func (s *appliedHistoryStep) Name() string { return "applied_history" }

func (s *appliedHistoryStep) Apply(ctx context.Context, deps Deps, r *Result) error {
	if deps.History == nil {
		return nil
	}

	submitted, err := deps.History.AlreadySubmitted(ctx, r.URL)
	if err != nil {
		deps.Logger.Warn("checking application history failed", zap.Error(err))
		return nil
	}
	if submitted {
		deps.Logger.Info("skipping job, it was already submitted")
		r.State = StateSkipped
		r.Reason = reasonAlreadySubmitted
	}
	return nil
}

type extractDescriptionStep struct {
	toggle
	maxSteps int
}

func (s *extractDescriptionStep) Name() string { return string(StateExtractDescription) }

func (s *extractDescriptionStep) Apply(ctx context.Context, deps Deps, r *Result) error {
	r.State = StateExtractDescription
	r.JobDescription = DefaultJobDescription

	if deps.Agent == nil {
		deps.Logger.Warn("no agent configured, using the default job description")
		return nil
	}

	task := agent.Task{
		Instructions: strings.ReplaceAll(extractTaskTemplate, "{{JOB_URL}}", r.URL),
		MaxSteps:     s.maxSteps,
	}

	h, err := deps.Agent.Run(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deps.Logger.Warn("extracting job description failed, using the default", zap.Error(err))
		return nil
	}

	description := h.FinalResult()
	if !h.Successful() || description == "" {
		deps.Logger.Warn("job description not found, using the default")
		return nil
	}

	r.JobDescription = description
	deps.Logger.Info("job description extracted",
		zap.String("description", utils.TruncateForLog(description, 200)),
	)
	return nil
}

type selectResumeStep struct {
	toggle
}

func (s *selectResumeStep) Name() string { return string(StateSelectResume) }

func (s *selectResumeStep) Apply(ctx context.Context, deps Deps, r *Result) error {
	r.State = StateSelectResume

	if deps.Ranker == nil {
		r.State = StateAborted
		return errors.New("resume ranker is required")
	}

	path, err := deps.Ranker.SelectBest(ctx, r.JobDescription, deps.Resumes)
	if err != nil {
		r.State = StateAborted
		if errors.Is(err, ranking.ErrNoResumes) {
			r.Reason = "no resumes loaded"
		}
		return err
	}

	r.Resume = path
	deps.Logger.Info("using resume", zap.String("resume", path))
	return nil
}

type evaluateFitStep struct {
	toggle
	skipUnfit    bool
	profileChars int
}

func (s *evaluateFitStep) Name() string { return string(StateEvaluateFit) }

func (s *evaluateFitStep) Apply(ctx context.Context, deps Deps, r *Result) error {
	r.State = StateEvaluateFit

	if deps.Evaluator == nil {
		return errors.New("fit evaluator is required when fit evaluation is enabled")
	}

	profile := ""
	for _, resume := range deps.Resumes.All() {
		if resume.Path == r.Resume {
			profile = utils.Truncate(resume.Text, s.profileChars)
			break
		}
	}

	analysis := deps.Evaluator.Evaluate(ctx, profile, r.JobDescription)
	r.Fit = &analysis

	if analysis.IsFit {
		return nil
	}

	deps.Logger.Info("job judged not a fit", zap.String("reasoning", analysis.Reasoning))

	if s.skipUnfit || (deps.Confirm != nil && !deps.Confirm(r)) {
		r.State = StateSkipped
		r.Reason = reasonNotAFit
	}
	return nil
}

type buildToolsStep struct {
	toggle
}

func (s *buildToolsStep) Name() string { return string(StateBuildTools) }

func (s *buildToolsStep) Apply(_ context.Context, deps Deps, r *Result) error {
	r.State = StateBuildTools

	if deps.Knowledge == nil {
		r.State = StateAborted
		return errors.New("knowledge base is required")
	}

	r.Tools = []agent.Tool{agent.KnowledgeTool(deps.Knowledge, deps.Logger)}
	r.AllowedFiles = []string{r.Resume}
	return nil
}

type formFillStep struct {
	toggle
}

func (s *formFillStep) Name() string { return string(StateRunFormFillAgent) }

func (s *formFillStep) Apply(ctx context.Context, deps Deps, r *Result) error {
	r.State = StateRunFormFillAgent

	if deps.Agent == nil {
		r.State = StateAborted
		return errors.New("browser agent is required")
	}

	task := agent.Task{
		Instructions: FormFillInstructions(r.URL, r.Resume),
		Tools:        r.Tools,
		AllowedFiles: r.AllowedFiles,
	}

	h, err := deps.Agent.Run(ctx, task)
	r.History = h
	if err != nil {
		r.State = StateAborted
		return fmt.Errorf("running form fill agent: %w", err)
	}

	if h.Successful() {
		r.State = StateSubmitted
		return nil
	}

	r.State = StateAborted
	r.Reason = "agent did not complete the application"
	if h != nil && len(h.Errors) > 0 {
		r.Reason = strings.Join(h.Errors, "; ")
	}
	return nil
}

// FormFillInstructions renders the task given to the form-filling agent.
func FormFillInstructions(jobURL, resumePath string) string {
	out := strings.ReplaceAll(applyTaskTemplate, "{{JOB_URL}}", jobURL)
	return strings.ReplaceAll(out, "{{RESUME_PATH}}", resumePath)
}
