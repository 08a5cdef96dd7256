// Package agent defines the contract between the application flow and a
// browser automation agent.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/auto-applier/internal/ai"
)

// Agent performs a natural-language task in a browser.
type Agent interface {
	Run(ctx context.Context, task Task) (*History, error)
}

// Tool is a function the agent may call while running a task.
type Tool struct {
	Name        string
	Description string
	Params      []ai.Param
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// Decl returns the model-facing declaration of the tool.
func (t Tool) Decl() ai.FunctionDecl {
	return ai.FunctionDecl{Name: t.Name, Description: t.Description, Params: t.Params}
}

// Task is one agent run.
type Task struct {
	Instructions string
	Tools        []Tool
	// AllowedFiles are the only local files the agent may upload.
	AllowedFiles []string
	// MaxSteps overrides the agent's default step budget when positive.
	MaxSteps int
}

// FileAllowed reports whether path may be uploaded during the task.
func (t Task) FileAllowed(path string) bool {
	for _, allowed := range t.AllowedFiles {
		if allowed == path {
			return true
		}
	}
	return false
}

// Step records one action taken by the agent.
type Step struct {
	Action string
	Args   map[string]any
	Output string
	Error  string
}

// History is the outcome of a run.
type History struct {
	Steps []Step
	// Done is set when the agent declared the task finished.
	Done bool
	// Success is the agent's own verdict, meaningful only when Done.
	Success bool
	Result  string
	Errors  []string
}

// Successful reports whether the agent finished the task and judged it a success.
func (h *History) Successful() bool {
	return h != nil && h.Done && h.Success
}

// FinalResult returns the agent's final text, or "" for an unfinished run.
func (h *History) FinalResult() string {
	if h == nil {
		return ""
	}
	return strings.TrimSpace(h.Result)
}

// DecodeArgs decodes model-provided arguments into out, accepting loosely
// typed values such as "true" for a bool.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
