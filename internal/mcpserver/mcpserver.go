// Package mcpserver exposes the applicant knowledge base to MCP clients.
package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spigell/auto-applier/internal/agent"
	"github.com/spigell/auto-applier/internal/knowledge"
	"github.com/spigell/auto-applier/internal/logger"
	"go.uber.org/zap"
)

// QueryInput is the argument of the knowledge tool.
type QueryInput struct {
	Question string `json:"question" jsonschema:"A natural-language question about the applicant"`
}

// QueryOutput is the knowledge tool answer.
type QueryOutput struct {
	Answer string `json:"answer"`
}

// New builds a server named name with the knowledge tool registered.
func New(name, version string, q agent.Querier, log *zap.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	Register(server, q, log)

	return server
}

// Register adds query_knowledge_base to server.
func Register(server *mcp.Server, q agent.Querier, log *zap.Logger) {
	log = logger.WithComponent(log, "mcp")

	mcp.AddTool(server, &mcp.Tool{
		Name:        agent.KnowledgeToolName,
		Description: agent.KnowledgeToolDescription,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		question := strings.TrimSpace(input.Question)
		if question == "" {
			return nil, QueryOutput{}, errors.New("question is required")
		}

		answer, err := q.Query(ctx, question)
		if err != nil {
			log.Error("knowledge base query failed", zap.String("question", question), zap.Error(err))
			answer = knowledge.NoResults
		}

		log.Debug("knowledge base answered over mcp", zap.String("question", question))

		return nil, QueryOutput{Answer: answer}, nil
	})
}

// Serve runs server over stdin/stdout until ctx is done or the client disconnects.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
