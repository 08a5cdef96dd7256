package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 3
)

var wait = utils.WaitFor

var retryAfterRe = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type chatsAdapter struct {
	chats *genai.Chats
}

func (a chatsAdapter) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := a.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Generator wraps the Google GenAI chat API with retries on transient failures.
type Generator struct {
	chats      chatCreator
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a genai client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return client, nil
}

// NewGenerator creates a Generator using the provided client.
func NewGenerator(client *genai.Client, model string, maxRetries int, log *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Generator{
		chats:      chatsAdapter{chats: client.Chats},
		model:      model,
		maxRetries: maxRetries,
		logger:     logger.WithCommonFields(log, ai.ProviderGemini, model),
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Generate implements ai.Generator.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	return g.GenerateContent(ctx, system, prompt)
}

// GenerateJSON asks for an application/json answer.
func (g *Generator) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	cfg := g.config(system)
	cfg.ResponseMIMEType = "application/json"
	return g.generate(ctx, cfg, prompt)
}

// GenerateContent sends message in a fresh chat with the system instruction
// and returns the textual response.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	return g.generate(ctx, g.config(system), message)
}

func (g *Generator) generate(ctx context.Context, cfg *genai.GenerateContentConfig, message string) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("prompt must not be empty")
	}

	var output string
	err := g.retry(ctx, func() error {
		chat, err := g.chats.Create(ctx, g.model, cfg, nil)
		if err != nil {
			return err
		}

		resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
		if err != nil {
			return err
		}

		output = responseText(resp)
		if output == "" {
			return ai.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return output, nil
}

func (g *Generator) config(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	if system = strings.TrimSpace(system); system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return cfg
}

func (g *Generator) retry(ctx context.Context, fn func() error) error {
	return ai.Retrier{
		MaxRetries: g.maxRetries,
		Delay:      retryDelay,
		Wait:       wait,
		Logger:     g.logger,
	}.Do(ctx, fn)
}

// retryDelay reports whether err is transient and how long to wait before
// the next attempt.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	var hint time.Duration
	if m := retryAfterRe.FindStringSubmatch(apiErr.Message); m != nil {
		if seconds, parseErr := strconv.ParseFloat(m[1], 64); parseErr == nil {
			hint = time.Duration(seconds * float64(time.Second))
		}
	}

	return ai.StatusRetryDelay(apiErr.Code, hint, attempt)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// only the first candidate is requested
		break
	}

	return strings.TrimSpace(builder.String())
}
