package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/auto-applier/internal/ai"
	"google.golang.org/genai"
)

type chat struct {
	g       *Generator
	session chatSession
}

// StartChat opens a function-calling conversation with the declared tools.
func (g *Generator) StartChat(ctx context.Context, system string, tools []ai.FunctionDecl) (ai.Chat, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	cfg := g.config(system)
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations(tools)}}
	}

	session, err := g.chats.Create(ctx, g.model, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	return &chat{g: g, session: session}, nil
}

func (c *chat) Send(ctx context.Context, msg ai.Message) (*ai.Reply, error) {
	parts := make([]genai.Part, 0, len(msg.Results)+1)
	for _, result := range msg.Results {
		parts = append(parts, genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       result.ID,
			Name:     result.Name,
			Response: map[string]any{"output": result.Output},
		}})
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		parts = append(parts, genai.Part{Text: text})
	}
	if len(parts) == 0 {
		return nil, errors.New("message must not be empty")
	}

	var resp *genai.GenerateContentResponse
	err := c.g.retry(ctx, func() error {
		var err error
		resp, err = c.session.SendMessage(ctx, parts...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	reply := &ai.Reply{Text: responseText(resp)}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.FunctionCall == nil {
				continue
			}
			reply.Calls = append(reply.Calls, ai.FunctionCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	if reply.Text == "" && len(reply.Calls) == 0 {
		return nil, ai.ErrEmptyResponse
	}

	return reply, nil
}

func declarations(tools []ai.FunctionDecl) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(tool.Params)),
		}
		for _, param := range tool.Params {
			schema.Properties[param.Name] = &genai.Schema{
				Type:        schemaType(param.Type),
				Description: param.Description,
				Enum:        param.Enum,
			}
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}

		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
