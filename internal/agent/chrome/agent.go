// Package chrome implements agent.Agent with chromedp and a function-calling
// language model.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/spigell/auto-applier/internal/agent"
	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

const (
	DefaultMaxSteps    = 50
	maxFailures        = 3
	maxOutputLogLength = 200

	actionNavigate = "navigate"
	actionReadPage = "read_page"
	actionFill     = "fill"
	actionClick    = "click"
	actionSelect   = "select_option"
	actionUpload   = "upload_file"
	actionDone     = "done"
)

//go:embed system_prompt.md
var systemPrompt string

// BrowserDriver is the set of browser actions the agent relies on.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*Page, error)
	Fill(ctx context.Context, id, value string) error
	Click(ctx context.Context, id string) error
	Select(ctx context.Context, id, option string) error
	Upload(ctx context.Context, id, path string) error
}

// Agent runs tasks in a browser, letting the model pick actions.
type Agent struct {
	browser  BrowserDriver
	chats    ai.ChatStarter
	maxSteps int
	wait     time.Duration
	logger   *zap.Logger
}

func NewAgent(browser BrowserDriver, chats ai.ChatStarter, maxSteps int, waitBetweenActions time.Duration, log *zap.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Agent{
		browser:  browser,
		chats:    chats,
		maxSteps: maxSteps,
		wait:     waitBetweenActions,
		logger:   logger.WithComponent(logger.WithFields(log, zap.String(logger.FieldModel, chats.Model())), "agent"),
	}
}

type run struct {
	*Agent
	task    agent.Task
	tools   map[string]agent.Tool
	history *agent.History
}

// Run executes the task. A nil error with an unsuccessful history means the
// agent gave up or ran out of steps.
func (a *Agent) Run(ctx context.Context, task agent.Task) (*agent.History, error) {
	r := &run{
		Agent:   a,
		task:    task,
		tools:   make(map[string]agent.Tool, len(task.Tools)),
		history: &agent.History{},
	}

	decls := builtinDecls()
	for _, tool := range task.Tools {
		r.tools[tool.Name] = tool
		decls = append(decls, tool.Decl())
	}

	chat, err := a.chats.StartChat(ctx, systemPrompt, decls)
	if err != nil {
		return r.history, fmt.Errorf("starting agent chat: %w", err)
	}

	maxSteps := a.maxSteps
	if task.MaxSteps > 0 {
		maxSteps = task.MaxSteps
	}

	msg := ai.Message{Text: r.intro(ctx)}
	failures := 0

	for step := 1; step <= maxSteps; step++ {
		reply, err := chat.Send(ctx, msg)
		if err != nil {
			return r.history, fmt.Errorf("agent step %d: %w", step, err)
		}

		if len(reply.Calls) == 0 {
			a.logger.Debug("model answered without an action", zap.Int("step", step))
			msg = ai.Message{Text: "Continue the task using the available functions. Call done when you are finished."}
			continue
		}

		results := make([]ai.FunctionResult, 0, len(reply.Calls))
		touched := false
		stepFailed := false
		for _, call := range reply.Calls {
			output, done, browserAction, callErr := r.dispatch(ctx, call)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.history, ctxErr
			}

			rec := agent.Step{Action: call.Name, Args: call.Args, Output: output}
			if callErr != nil {
				rec.Error = callErr.Error()
				output = "error: " + callErr.Error()
				stepFailed = true
			}
			r.history.Steps = append(r.history.Steps, rec)

			a.logger.Info("agent action",
				zap.Int("step", step),
				zap.String("action", call.Name),
				zap.String("output", utils.TruncateForLog(output, maxOutputLogLength)),
				zap.Bool("failed", callErr != nil),
			)

			if done {
				return r.history, nil
			}

			touched = touched || browserAction
			results = append(results, ai.FunctionResult{ID: call.ID, Name: call.Name, Output: output})
		}

		if stepFailed {
			failures++
			if failures >= maxFailures {
				r.history.Errors = append(r.history.Errors, fmt.Sprintf("stopped after %d consecutive failed steps", failures))
				return r.history, nil
			}
		} else {
			failures = 0
		}

		msg = ai.Message{Results: results}
		if touched {
			if err := utils.WaitFor(ctx, a.wait); err != nil {
				return r.history, err
			}
			msg.Text = "Current page:\n" + r.observe(ctx)
		}
	}

	r.history.Errors = append(r.history.Errors, fmt.Sprintf("reached the maximum of %d steps", maxSteps))
	a.logger.Warn("agent ran out of steps", zap.Int("max_steps", maxSteps))
	return r.history, nil
}

func (r *run) intro(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(r.task.Instructions))
	b.WriteString("\n\n")
	if len(r.task.AllowedFiles) > 0 {
		b.WriteString("Files you may upload:\n")
		for _, path := range r.task.AllowedFiles {
			b.WriteString("- " + path + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Current page:\n")
	b.WriteString(r.observe(ctx))
	return b.String()
}

func (r *run) observe(ctx context.Context) string {
	page, err := r.browser.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("reading the page failed", zap.Error(err))
		return "(the page could not be read: " + err.Error() + ")"
	}
	return page.Describe()
}

type navigateArgs struct {
	URL string `json:"url"`
}

type elementArgs struct {
	Index string `json:"index"`
	Value string `json:"value"`
	Path  string `json:"path"`
}

type doneArgs struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
}

// dispatch performs one call. browserAction reports whether the page may
// have changed.
func (r *run) dispatch(ctx context.Context, call ai.FunctionCall) (output string, done bool, browserAction bool, err error) {
	switch call.Name {
	case actionNavigate:
		var in navigateArgs
		if err := agent.DecodeArgs(call.Args, &in); err != nil {
			return "", false, false, err
		}
		if strings.TrimSpace(in.URL) == "" {
			return "", false, false, errors.New("url is required")
		}
		if err := r.browser.Navigate(ctx, in.URL); err != nil {
			return "", false, true, err
		}
		return "navigated to " + in.URL, false, true, nil

	case actionReadPage:
		return r.observe(ctx), false, false, nil

	case actionFill, actionClick, actionSelect, actionUpload:
		var in elementArgs
		if err := agent.DecodeArgs(call.Args, &in); err != nil {
			return "", false, false, err
		}
		if strings.TrimSpace(in.Index) == "" {
			return "", false, false, errors.New("index is required")
		}
		return r.element(ctx, call.Name, in)

	case actionDone:
		var in doneArgs
		if err := agent.DecodeArgs(call.Args, &in); err != nil {
			return "", false, false, err
		}
		r.history.Done = true
		r.history.Success = in.Success
		r.history.Result = in.Text
		return in.Text, true, false, nil
	}

	tool, ok := r.tools[call.Name]
	if !ok {
		return "", false, false, fmt.Errorf("unknown function %q", call.Name)
	}
	out, err := tool.Call(ctx, call.Args)
	return out, false, false, err
}

func (r *run) element(ctx context.Context, action string, in elementArgs) (string, bool, bool, error) {
	id := strings.TrimSpace(in.Index)

	var err error
	switch action {
	case actionFill:
		err = r.browser.Fill(ctx, id, in.Value)
	case actionClick:
		err = r.browser.Click(ctx, id)
	case actionSelect:
		err = r.browser.Select(ctx, id, in.Value)
	case actionUpload:
		if !r.task.FileAllowed(in.Path) {
			return "", false, false, fmt.Errorf("file %q is not in the list of files you may upload", in.Path)
		}
		err = r.browser.Upload(ctx, id, in.Path)
	}
	if err != nil {
		return "", false, true, err
	}
	return fmt.Sprintf("%s on element %s succeeded", action, id), false, true, nil
}

func builtinDecls() []ai.FunctionDecl {
	index := ai.Param{Name: "index", Type: "string", Description: "Id of the element as shown in square brackets.", Required: true}

	return []ai.FunctionDecl{
		{
			Name:        actionNavigate,
			Description: "Open a web address in the current tab.",
			Params:      []ai.Param{{Name: "url", Type: "string", Description: "Absolute address to open.", Required: true}},
		},
		{
			Name:        actionReadPage,
			Description: "Return the current page with its interactive elements.",
		},
		{
			Name:        actionFill,
			Description: "Replace the text of an input or textarea.",
			Params:      []ai.Param{index, {Name: "value", Type: "string", Description: "Text to type.", Required: true}},
		},
		{
			Name:        actionClick,
			Description: "Click an element such as a button, link or checkbox.",
			Params:      []ai.Param{index},
		},
		{
			Name:        actionSelect,
			Description: "Choose an option of a drop-down by its visible text or value.",
			Params:      []ai.Param{index, {Name: "value", Type: "string", Description: "Option text or value.", Required: true}},
		},
		{
			Name:        actionUpload,
			Description: "Attach a local file to a file input. Only allowed files can be uploaded.",
			Params:      []ai.Param{index, {Name: "path", Type: "string", Description: "Absolute path of an allowed file.", Required: true}},
		},
		{
			Name:        actionDone,
			Description: "Finish the task.",
			Params: []ai.Param{
				{Name: "success", Type: "boolean", Description: "Whether the task was completed.", Required: true},
				{Name: "text", Type: "string", Description: "Final result or explanation.", Required: true},
			},
		},
	}
}
