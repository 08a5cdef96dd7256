package groq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/auto-applier/internal/ai"
	"go.uber.org/zap"
)

type chat struct {
	client   *Client
	tools    []tool
	messages []message
}

// StartChat opens a tool-calling conversation. History is kept client side.
func (c *Client) StartChat(_ context.Context, system string, tools []ai.FunctionDecl) (ai.Chat, error) {
	s := &chat{client: c, tools: toolSpecs(tools)}
	if system = strings.TrimSpace(system); system != "" {
		s.messages = append(s.messages, message{Role: "system", Content: system})
	}
	return s, nil
}

func (s *chat) Send(ctx context.Context, msg ai.Message) (*ai.Reply, error) {
	pending := make([]message, 0, len(msg.Results)+1)
	for _, result := range msg.Results {
		pending = append(pending, message{
			Role:       "tool",
			Name:       result.Name,
			ToolCallID: result.ID,
			Content:    result.Output,
		})
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		pending = append(pending, message{Role: "user", Content: text})
	}
	if len(pending) == 0 {
		return nil, errors.New("message must not be empty")
	}

	req := chatRequest{
		Model:    s.client.model,
		Messages: append(append([]message{}, s.messages...), pending...),
		Tools:    s.tools,
	}

	out, err := s.client.do(ctx, req)
	if err != nil {
		return nil, err
	}

	// history only grows once the turn succeeded so a failed send can be retried
	s.messages = append(req.Messages, *out)

	reply := &ai.Reply{Text: strings.TrimSpace(out.Content)}
	for _, call := range out.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				s.client.logger.Warn("tool call arguments are not valid json",
					zap.String("tool", call.Function.Name),
					zap.Error(err),
				)
				args = map[string]any{}
			}
		}
		reply.Calls = append(reply.Calls, ai.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}

	if reply.Text == "" && len(reply.Calls) == 0 {
		return nil, fmt.Errorf("chat turn: %w", ai.ErrEmptyResponse)
	}

	return reply, nil
}

func toolSpecs(decls []ai.FunctionDecl) []tool {
	if len(decls) == 0 {
		return nil
	}

	tools := make([]tool, 0, len(decls))
	for _, decl := range decls {
		properties := make(map[string]any, len(decl.Params))
		required := []string{}
		for _, param := range decl.Params {
			typ := strings.ToLower(strings.TrimSpace(param.Type))
			if typ == "" {
				typ = "string"
			}
			prop := map[string]any{"type": typ}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}

		tools = append(tools, tool{
			Type: "function",
			Function: functionSpec{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return tools
}
