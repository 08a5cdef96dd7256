// Package ai defines the language-model collaborators used across the
// application. Providers live in subpackages.
package ai

import (
	"context"
	"errors"
)

const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// ErrEmptyResponse is returned when a provider answers without any text or calls.
var ErrEmptyResponse = errors.New("model returned empty response")

// Generator produces a single text completion.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// JSONGenerator asks the model for a JSON object as the whole answer.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// Param is a single string-or-scalar parameter of a callable function.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// FunctionDecl advertises a function the model may call.
type FunctionDecl struct {
	Name        string
	Description string
	Params      []Param
}

// FunctionCall is a model request to invoke a declared function.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResult answers a FunctionCall.
type FunctionResult struct {
	ID     string
	Name   string
	Output string
}

// Message is one user turn: plain text, function results, or both.
type Message struct {
	Text    string
	Results []FunctionResult
}

// Reply is one model turn.
type Reply struct {
	Text  string
	Calls []FunctionCall
}

// Chat is a stateful function-calling conversation.
type Chat interface {
	Send(ctx context.Context, msg Message) (*Reply, error)
}

// ChatStarter opens function-calling conversations.
type ChatStarter interface {
	StartChat(ctx context.Context, system string, tools []FunctionDecl) (Chat, error)
	Model() string
}
