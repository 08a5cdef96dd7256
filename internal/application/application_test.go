package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spigell/auto-applier/internal/agent"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/fit"
	"github.com/spigell/auto-applier/internal/history"
	"github.com/spigell/auto-applier/internal/knowledge"
	"github.com/spigell/auto-applier/internal/ranking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const jobURL = "https://jobs.example.com/123"

// fakeAgent answers extraction tasks (no tools) and form-fill tasks (with tools)
// separately.
type fakeAgent struct {
	mu sync.Mutex

	extract    *agent.History
	extractErr error
	fill       *agent.History
	fillErr    error

	tasks []agent.Task
}

func (a *fakeAgent) Run(_ context.Context, task agent.Task) (*agent.History, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)

	if len(task.Tools) == 0 {
		return a.extract, a.extractErr
	}
	return a.fill, a.fillErr
}

func (a *fakeAgent) fillTask(t *testing.T) agent.Task {
	t.Helper()
	for _, task := range a.tasks {
		if len(task.Tools) > 0 {
			return task
		}
	}
	t.Fatal("form fill agent was not run")
	return agent.Task{}
}

type recordingRanker struct {
	description string
	inner       ResumeSelector
}

func (r *recordingRanker) SelectBest(ctx context.Context, jobDescription string, resumes *documents.ResumeSet) (string, error) {
	r.description = jobDescription
	return r.inner.SelectBest(ctx, jobDescription, resumes)
}

type stubEvaluator struct {
	analysis fit.Analysis
	profile  string
}

func (e *stubEvaluator) Evaluate(_ context.Context, profileSummary, _ string) fit.Analysis {
	e.profile = profileSummary
	return e.analysis
}

type memoryRecorder struct {
	submitted map[string]bool
	err       error
	entries   []history.Entry
}

func (m *memoryRecorder) AlreadySubmitted(_ context.Context, url string) (bool, error) {
	return m.submitted[url], m.err
}

func (m *memoryRecorder) Record(_ context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

type stubQuerier struct{}

func (stubQuerier) Query(_ context.Context, _ string) (string, error) {
	return knowledge.NoResults, nil
}

func oneResume() *documents.ResumeSet {
	return documents.NewResumeSet(documents.Resume{Path: "/resumes/backend.pdf", Text: "Go developer, 7 years"})
}

func newDeps(a *fakeAgent, resumes *documents.ResumeSet, rec *memoryRecorder) (Deps, *recordingRanker) {
	ranker := &recordingRanker{inner: ranking.NewRanker(nil, 0, zap.NewNop())}
	return Deps{
		Agent:     a,
		Ranker:    ranker,
		Knowledge: stubQuerier{},
		Resumes:   resumes,
		History:   rec,
		Logger:    zap.NewNop(),
	}, ranker
}

func TestApplySubmitted(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{
		extract: &agent.History{Done: true, Success: true, Result: "Senior Go Engineer at Acme"},
		fill:    &agent.History{Done: true, Success: true, Result: "Application submitted"},
	}
	rec := &memoryRecorder{}
	deps, ranker := newDeps(a, oneResume(), rec)

	res, err := New(deps, Options{}).Apply(context.Background(), " "+jobURL+" ")
	require.NoError(t, err)

	assert.Equal(t, StateSubmitted, res.State)
	assert.Equal(t, jobURL, res.URL)
	assert.Equal(t, "Senior Go Engineer at Acme", res.JobDescription)
	assert.Equal(t, "Senior Go Engineer at Acme", ranker.description)
	assert.Equal(t, "/resumes/backend.pdf", res.Resume)

	task := a.fillTask(t)
	require.Len(t, task.Tools, 1)
	assert.Equal(t, agent.KnowledgeToolName, task.Tools[0].Name)
	assert.Equal(t, []string{"/resumes/backend.pdf"}, task.AllowedFiles)
	assert.Contains(t, task.Instructions, jobURL)
	assert.Contains(t, task.Instructions, "/resumes/backend.pdf")
	assert.Contains(t, task.Instructions, "query_knowledge_base")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, res.ID, rec.entries[0].ID)
	assert.Equal(t, history.StateSubmitted, rec.entries[0].State)
	assert.Equal(t, "Application submitted", rec.entries[0].Result)

	names := make([]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"applied_history", "extract_description", "select_resume", "build_tools", "run_form_fill_agent"}, names)
}

func TestApplyDescriptionFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history *agent.History
		err     error
	}{
		{name: "agent error", err: errors.New("browser crashed")},
		{name: "not successful", history: &agent.History{Done: true, Success: false, Result: "no posting"}},
		{name: "empty result", history: &agent.History{Done: true, Success: true, Result: "   "}},
		{name: "nil history"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := &fakeAgent{
				extract:    tt.history,
				extractErr: tt.err,
				fill:       &agent.History{Done: true, Success: true},
			}
			deps, ranker := newDeps(a, oneResume(), &memoryRecorder{})

			res, err := New(deps, Options{}).Apply(context.Background(), jobURL)
			require.NoError(t, err)
			assert.Equal(t, DefaultJobDescription, res.JobDescription)
			assert.Equal(t, "General Job Description", ranker.description)
			assert.Equal(t, StateSubmitted, res.State)
		})
	}
}

func TestApplyNoResumes(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{extract: &agent.History{Done: true, Success: true, Result: "desc"}}
	rec := &memoryRecorder{}
	deps, _ := newDeps(a, documents.NewResumeSet(), rec)

	res, err := New(deps, Options{}).Apply(context.Background(), jobURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ranking.ErrNoResumes)
	assert.Equal(t, StateAborted, res.State)
	assert.Len(t, a.tasks, 1, "form fill agent must not run")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "aborted", rec.entries[0].State)
}

func TestApplyAgentFailure(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{
		extract: &agent.History{Done: true, Success: true, Result: "desc"},
		fillErr: errors.New("chrome exited"),
	}
	rec := &memoryRecorder{}
	deps, _ := newDeps(a, oneResume(), rec)

	res, err := New(deps, Options{}).Apply(context.Background(), jobURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome exited")
	assert.Equal(t, StateAborted, res.State)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "aborted", rec.entries[0].State)
}

func TestApplyAgentGaveUp(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{
		extract: &agent.History{Done: true, Success: true, Result: "desc"},
		fill:    &agent.History{Errors: []string{"captcha", "step limit reached"}},
	}
	deps, _ := newDeps(a, oneResume(), &memoryRecorder{})

	res, err := New(deps, Options{}).Apply(context.Background(), jobURL)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, "captcha; step limit reached", res.Reason)
}

func TestApplyAlreadySubmitted(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{}
	rec := &memoryRecorder{submitted: map[string]bool{jobURL: true}}
	deps, _ := newDeps(a, oneResume(), rec)

	res, err := New(deps, Options{}).Apply(context.Background(), jobURL)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, res.State)
	assert.Empty(t, a.tasks)
	assert.Empty(t, rec.entries)
}

func TestApplyForceIgnoresHistory(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{
		extract: &agent.History{Done: true, Success: true, Result: "desc"},
		fill:    &agent.History{Done: true, Success: true},
	}
	rec := &memoryRecorder{submitted: map[string]bool{jobURL: true}}
	deps, _ := newDeps(a, oneResume(), rec)

	res, err := New(deps, Options{Force: true}).Apply(context.Background(), jobURL)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, res.State)
	assert.Len(t, rec.entries, 1)
}

func TestApplyFitEvaluation(t *testing.T) {
	t.Parallel()

	unfit := fit.Analysis{IsFit: false, Reasoning: "requires 10 years of Rust"}

	tests := []struct {
		name      string
		analysis  fit.Analysis
		opts      Options
		confirm   func(*Result) bool
		wantState State
	}{
		{name: "fit", analysis: fit.Analysis{IsFit: true, Reasoning: "good"}, opts: Options{EvaluateFit: true}, wantState: StateSubmitted},
		{name: "unfit skipped", analysis: unfit, opts: Options{EvaluateFit: true, SkipUnfit: true}, wantState: StateSkipped},
		{name: "unfit confirmed", analysis: unfit, opts: Options{EvaluateFit: true}, confirm: func(*Result) bool { return true }, wantState: StateSubmitted},
		{name: "unfit declined", analysis: unfit, opts: Options{EvaluateFit: true}, confirm: func(*Result) bool { return false }, wantState: StateSkipped},
		{name: "unfit without prompt", analysis: unfit, opts: Options{EvaluateFit: true}, wantState: StateSubmitted},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := &fakeAgent{
				extract: &agent.History{Done: true, Success: true, Result: "desc"},
				fill:    &agent.History{Done: true, Success: true},
			}
			rec := &memoryRecorder{}
			deps, _ := newDeps(a, oneResume(), rec)
			eval := &stubEvaluator{analysis: tt.analysis}
			deps.Evaluator = eval
			deps.Confirm = tt.confirm

			res, err := New(deps, tt.opts).Apply(context.Background(), jobURL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, "Go developer, 7 years", eval.profile)
			require.NotNil(t, res.Fit)
			require.Len(t, rec.entries, 1)
			assert.Equal(t, tt.analysis.Reasoning, rec.entries[0].FitReasoning)
		})
	}
}

func TestApplyRequiresURL(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{}
	deps, _ := newDeps(a, oneResume(), &memoryRecorder{})

	res, err := New(deps, Options{}).Apply(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Empty(t, a.tasks)
}

func TestApplyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeAgent{}
	rec := &memoryRecorder{}
	deps, _ := newDeps(a, oneResume(), rec)

	res, err := New(deps, Options{}).Apply(ctx, jobURL)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, res.State)
	assert.Len(t, rec.entries, 1)
}

func TestDefaultStepsDescribe(t *testing.T) {
	t.Parallel()

	steps := DefaultSteps(Options{Force: true})
	DisableByName(steps, "build_tools", "testing")

	statuses := Describe(steps)
	require.Len(t, statuses, 6)

	byName := map[string]Status{}
	for _, s := range statuses {
		byName[s.Name] = s
	}
	assert.False(t, byName["applied_history"].Enabled)
	assert.Equal(t, "force flag is set", byName["applied_history"].Reason)
	assert.False(t, byName["evaluate_fit"].Enabled)
	assert.False(t, byName["build_tools"].Enabled)
	assert.True(t, byName["run_form_fill_agent"].Enabled)
}

func TestFormFillInstructions(t *testing.T) {
	t.Parallel()

	out := FormFillInstructions(jobURL, "/tmp/cv.pdf")
	assert.False(t, strings.Contains(out, "{{"), "placeholders must be replaced")
	assert.Contains(t, out, "You are an autonomous AI applying for a job at "+jobURL)
	assert.Contains(t, out, "/tmp/cv.pdf")
}
