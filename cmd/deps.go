package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"github.com/spigell/auto-applier/internal/agent/chrome"
	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/ai/gemini"
	"github.com/spigell/auto-applier/internal/ai/groq"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/knowledge"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/secrets"
	"github.com/spigell/auto-applier/internal/storage"
	"go.uber.org/zap"
)

// textModel is what every non-agent role needs from a provider.
type textModel interface {
	ai.Generator
	ai.JSONGenerator
}

// models holds one client per role.
type models struct {
	agent     ai.ChatStarter
	knowledge textModel
	resume    textModel
}

// setup builds the logger and the validated config, exiting on failure
// the way every command expects.
func setup() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Debug("starting with config",
		zap.String("provider", config.AI.Provider),
		zap.String("resumes_dir", config.ResumesDir),
		zap.String("knowledge_base_dir", config.KnowledgeBaseDir),
		zap.String("database", config.Database),
	)

	return logger, config
}

func providerAPIKey(cfg *AIConfig) (string, error) {
	if strings.EqualFold(cfg.Provider, ai.ProviderGemini) {
		return geminiAPIKey(cfg)
	}

	key, err := secrets.Load(secrets.Source{
		Name:  "groq api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   []string{"GROQ_API_KEY"},
	})
	if err != nil {
		return "", fmt.Errorf("%w (set ai.api-key-file or GROQ_API_KEY)", err)
	}
	return key, nil
}

func geminiAPIKey(cfg *AIConfig) (string, error) {
	value, file := cfg.GeminiAPIKey, cfg.GeminiAPIKeyFile
	if strings.EqualFold(cfg.Provider, ai.ProviderGemini) {
		if value == "" {
			value = cfg.APIKey
		}
		if file == "" {
			file = cfg.APIKeyFile
		}
	}

	key, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: value,
		File:  file,
		Env:   []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	})
	if err != nil {
		return "", fmt.Errorf("%w (set ai.gemini-api-key-file or GEMINI_API_KEY)", err)
	}
	return key, nil
}

// newModels connects the configured provider for every role.
func newModels(ctx context.Context, config *Config, log *zap.Logger) (*models, error) {
	key, err := providerAPIKey(config.AI)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(config.AI.Provider)) {
	case ai.ProviderGemini:
		client, err := gemini.NewClient(ctx, key)
		if err != nil {
			return nil, err
		}

		generator, err := gemini.NewGenerator(client, config.AI.GeminiModel, config.AI.MaxRetries, log)
		if err != nil {
			return nil, err
		}

		return &models{agent: generator, knowledge: generator, resume: generator}, nil

	case "", ai.ProviderGroq:
		build := func(model string) (*groq.Client, error) {
			return groq.New(groq.Options{
				APIKey:            key,
				BaseURL:           config.AI.BaseURL,
				Model:             model,
				RequestsPerMinute: config.AI.RequestsPerMinute,
				MaxRetries:        config.AI.MaxRetries,
			}, log)
		}

		agentClient, err := build(config.Models.Agent)
		if err != nil {
			return nil, err
		}
		knowledgeClient, err := build(config.Models.Knowledge)
		if err != nil {
			return nil, err
		}
		resumeClient, err := build(config.Models.Resume)
		if err != nil {
			return nil, err
		}

		return &models{agent: agentClient, knowledge: knowledgeClient, resume: resumeClient}, nil

	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", config.AI.Provider)
	}
}

// newEmbedder returns the Gemini embedder, or nil when embeddings are
// disabled or no Gemini key is available. Retrieval then uses keywords only.
func newEmbedder(ctx context.Context, config *Config, log *zap.Logger) ai.Embedder {
	if !config.Knowledge.Embeddings {
		return nil
	}

	key, err := geminiAPIKey(config.AI)
	if err != nil {
		log.Warn("semantic retrieval disabled", zap.Error(err))
		return nil
	}

	client, err := gemini.NewClient(ctx, key)
	if err != nil {
		log.Warn("semantic retrieval disabled", zap.Error(err))
		return nil
	}

	embedder, err := gemini.NewEmbedder(client, config.Models.Embedding)
	if err != nil {
		log.Warn("semantic retrieval disabled", zap.Error(err))
		return nil
	}

	return embedder
}

// openKnowledge opens the database and the retriever on top of it. The
// extractor may be nil for read-only commands. The returned func closes both.
func openKnowledge(ctx context.Context, config *Config, extractor ai.JSONGenerator, log *zap.Logger) (*knowledge.Retriever, *storage.DB, func(), error) {
	db, err := storage.Open(config.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}

	opts := knowledge.Options{
		Subject:  config.Knowledge.Subject,
		TopK:     config.Knowledge.TopK,
		Embedder: newEmbedder(ctx, config, log),
	}
	if extractor != nil {
		opts.Extractor = knowledge.NewLLMExtractor(extractor)
	}

	retriever, err := knowledge.Open(ctx, db, opts, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	closer := func() {
		if err := retriever.Close(); err != nil {
			log.Warn("closing knowledge index", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			log.Warn("closing database", zap.Error(err))
		}
	}

	return retriever, db, closer, nil
}

func loadResumes(ctx context.Context, config *Config, log *zap.Logger) (*documents.ResumeSet, error) {
	resumes, err := documents.NewStore(log).LoadResumes(ctx, config.ResumesDir)
	if err != nil {
		return nil, fmt.Errorf("loading resumes: %w", err)
	}
	if resumes.Len() == 0 {
		return resumes, errors.New("no resumes found, put PDF files into " + config.ResumesDir)
	}
	return resumes, nil
}

func newBrowserAgent(ctx context.Context, config *Config, chats ai.ChatStarter, log *zap.Logger) (*chrome.Agent, func(), error) {
	browser, err := chrome.NewBrowser(ctx, chrome.Options{
		ExecPath:         config.Browser.ExecutablePath,
		UserDataDir:      config.Browser.UserDataDir,
		ProfileDirectory: config.Browser.ProfileDirectory,
		Headless:         config.Browser.Headless,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	agent := chrome.NewAgent(browser, chats, config.Browser.MaxSteps, config.Browser.WaitBetweenActions, log)

	return agent, browser.Close, nil
}
