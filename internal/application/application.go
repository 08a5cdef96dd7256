// Package application drives one job application from a URL to a submitted
// (or abandoned) form.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/auto-applier/internal/agent"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/fit"
	"github.com/spigell/auto-applier/internal/history"
	"github.com/spigell/auto-applier/internal/logger"
	"go.uber.org/zap"
)

// State is a position in the application flow.
type State string

const (
	StateStart              State = "start"
	StateExtractDescription State = "extract_description"
	StateSelectResume       State = "select_resume"
	StateEvaluateFit        State = "evaluate_fit"
	StateBuildTools         State = "build_tools"
	StateRunFormFillAgent   State = "run_form_fill_agent"
	StateSubmitted          State = "submitted"
	StateAborted            State = "aborted"
	StateSkipped            State = "skipped"
)

// Terminal reports whether no step follows s.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateAborted || s == StateSkipped
}

// DefaultJobDescription stands in when the posting could not be read.
const DefaultJobDescription = "General Job Description"

// ResumeSelector picks the best resume for a description.
type ResumeSelector interface {
	SelectBest(ctx context.Context, jobDescription string, resumes *documents.ResumeSet) (string, error)
}

// FitEvaluator judges the candidate against a description.
type FitEvaluator interface {
	Evaluate(ctx context.Context, profileSummary, jobDescription string) fit.Analysis
}

// Recorder keeps the history of runs.
type Recorder interface {
	AlreadySubmitted(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, e history.Entry) error
}

// Deps aggregates collaborators shared by all steps.
type Deps struct {
	Agent     agent.Agent
	Ranker    ResumeSelector
	Evaluator FitEvaluator
	Knowledge agent.Querier
	Resumes   *documents.ResumeSet
	History   Recorder
	// Confirm is asked whether to continue with a job judged not a fit.
	// Nil continues.
	Confirm func(r *Result) bool
	Logger  *zap.Logger
}

// Options tune the flow.
type Options struct {
	EvaluateFit bool
	SkipUnfit   bool
	// Force applies even when the URL was already submitted.
	Force bool
	// ProfileChars bounds the resume text used as profile summary.
	ProfileChars    int
	ExtractMaxSteps int
}

// StepOutcome is the log of one executed step.
type StepOutcome struct {
	Name     string
	State    State
	Duration time.Duration
}

// Result is the outcome of one application.
type Result struct {
	ID             string
	URL            string
	State          State
	JobDescription string
	Resume         string
	Fit            *fit.Analysis
	Tools          []agent.Tool
	AllowedFiles   []string
	History        *agent.History
	Reason         string
	Steps          []StepOutcome
}

// Orchestrator runs the application flow.
type Orchestrator struct {
	deps  Deps
	steps []Step
}

func New(deps Deps, opts Options) *Orchestrator {
	deps.Logger = logger.WithComponent(deps.Logger, "application")
	return &Orchestrator{deps: deps, steps: DefaultSteps(opts)}
}

// Steps returns the configured steps.
func (o *Orchestrator) Steps() []Step {
	return o.steps
}

// Apply runs every enabled step for jobURL until a terminal state.
// The returned result is never nil.
func (o *Orchestrator) Apply(ctx context.Context, jobURL string) (*Result, error) {
	r := &Result{
		ID:    uuid.NewString(),
		URL:   strings.TrimSpace(jobURL),
		State: StateStart,
	}
	log := logger.WithFields(o.deps.Logger,
		zap.String(logger.FieldJobURL, r.URL),
		zap.String("run_id", r.ID),
	)
	deps := o.deps
	deps.Logger = log

	if r.URL == "" {
		r.State = StateAborted
		return r, errors.New("job url is required")
	}

	log.Info("applying to job")

	err := Run(ctx, deps, o.steps, r)
	if err != nil && !r.State.Terminal() {
		r.State = StateAborted
	}
	if !r.State.Terminal() {
		r.State = StateAborted
		r.Reason = "flow ended without a terminal state"
	}

	o.record(ctx, log, r)

	log.Info("application finished",
		zap.String("state", string(r.State)),
		zap.String("resume", r.Resume),
		zap.String("reason", r.Reason),
	)

	return r, err
}

func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, r *Result) {
	if o.deps.History == nil || r.Reason == reasonAlreadySubmitted {
		return
	}

	entry := history.Entry{
		ID:     r.ID,
		URL:    r.URL,
		Resume: r.Resume,
		State:  string(r.State),
		Result: r.History.FinalResult(),
	}
	if entry.Result == "" {
		entry.Result = r.Reason
	}
	if r.Fit != nil {
		entry.FitReasoning = r.Fit.Reasoning
	}

	// a cancelled run is still worth remembering
	if err := o.deps.History.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("recording application history failed", zap.Error(err))
	}
}

// Run executes the enabled steps in order, stopping at a terminal state or
// the first error.
func Run(ctx context.Context, deps Deps, steps []Step, r *Result) error {
	log := logger.WithFields(deps.Logger)

	for _, step := range steps {
		if !step.IsEnabled() {
			log.Debug("application step disabled", zap.String("name", step.Name()))
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		err := step.Apply(ctx, deps, r)
		outcome := StepOutcome{Name: step.Name(), State: r.State, Duration: time.Since(started)}
		r.Steps = append(r.Steps, outcome)

		if err != nil {
			log.Error("application step failed",
				zap.String("name", step.Name()),
				zap.String("state", string(r.State)),
				zap.Error(err),
			)
			return fmt.Errorf("%s: %w", step.Name(), err)
		}

		log.Info("application step",
			zap.String("name", step.Name()),
			zap.String("state", string(r.State)),
			zap.Duration("took", outcome.Duration),
		)

		if r.State.Terminal() {
			return nil
		}
	}
	return nil
}
