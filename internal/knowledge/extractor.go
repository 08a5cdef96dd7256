package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/xeipuuv/gojsonschema"
)

// FactExtractor splits free text into atomic facts.
type FactExtractor interface {
	Extract(ctx context.Context, text, source string) ([]string, error)
}

//go:embed extract_prompt.md
var extractPromptTemplate string

const factsSchema = `{
	"type": "object",
	"required": ["facts"],
	"properties": {
		"facts": {"type": "array", "items": {"type": "string"}}
	}
}`

var factsSchemaLoader = gojsonschema.NewStringLoader(factsSchema)

// LLMExtractor asks a model for facts in JSON mode.
type LLMExtractor struct {
	generator ai.JSONGenerator
}

func NewLLMExtractor(generator ai.JSONGenerator) *LLMExtractor {
	return &LLMExtractor{generator: generator}
}

func (e *LLMExtractor) Extract(ctx context.Context, text, source string) ([]string, error) {
	prompt := strings.ReplaceAll(extractPromptTemplate, "{{SOURCE}}", source)
	prompt = strings.ReplaceAll(prompt, "{{TEXT}}", text)

	raw, err := e.generator.GenerateJSON(ctx, "", prompt)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	cleaned := ai.ExtractJSON(raw)
	result, err := gojsonschema.Validate(factsSchemaLoader, gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("extract facts: invalid json: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("extract facts: unexpected shape: %v", result.Errors())
	}

	var payload struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	facts := make([]string, 0, len(payload.Facts))
	for _, fact := range payload.Facts {
		if fact = strings.TrimSpace(fact); fact != "" {
			facts = append(facts, fact)
		}
	}
	if len(facts) == 0 {
		return nil, errors.New("extract facts: model returned no facts")
	}
	return facts, nil
}

// Chunker splits text line by line, breaking long lines into overlapping
// word windows.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 60
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Chunk(text string) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		step := c.size - c.overlap
		for i := 0; i < len(words); i += step {
			end := i + c.size
			if end > len(words) {
				end = len(words)
			}
			chunks = append(chunks, strings.Join(words[i:end], " "))
			if end >= len(words) {
				break
			}
		}
	}
	return chunks
}
