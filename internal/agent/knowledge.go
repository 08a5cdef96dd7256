package agent

import (
	"context"
	"strings"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/knowledge"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

const (
	KnowledgeToolName = "query_knowledge_base"
	// KnowledgeToolDescription tells the agent when to consult the knowledge base.
	KnowledgeToolDescription = "Query the applicant's knowledge base to retrieve facts about their " +
		"background, education, employment history, skills, or any other personal " +
		"information needed to fill the job application form."
)

// Querier answers questions about the applicant.
type Querier interface {
	Query(ctx context.Context, question string) (string, error)
}

type knowledgeArgs struct {
	Question string `json:"question"`
}

// KnowledgeTool exposes q to the agent. Retrieval failures are logged and
// answered with knowledge.NoResults so the agent treats the fact as unknown.
func KnowledgeTool(q Querier, log *zap.Logger) Tool {
	log = logger.WithComponent(log, "knowledge-tool")

	return Tool{
		Name:        KnowledgeToolName,
		Description: KnowledgeToolDescription,
		Params: []ai.Param{{
			Name:        "question",
			Type:        "string",
			Description: "A natural-language question about the applicant, e.g. 'What is the applicant's phone number?'",
			Required:    true,
		}},
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			var in knowledgeArgs
			if err := DecodeArgs(args, &in); err != nil {
				return "", err
			}

			question := strings.TrimSpace(in.Question)
			answer, err := q.Query(ctx, question)
			if err != nil {
				log.Error("knowledge base query failed", zap.String("question", question), zap.Error(err))
				return knowledge.NoResults, nil
			}

			log.Debug("knowledge base answered",
				zap.String("question", question),
				zap.String("answer", utils.TruncateForLog(answer, 200)),
			)
			return answer, nil
		},
	}
}
