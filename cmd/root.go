package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "auto-applier"
)

type Config struct {
	KnowledgeBaseDir string           `mapstructure:"knowledge-base-dir" validate:"required"`
	ResumesDir       string           `mapstructure:"resumes-dir" validate:"required"`
	Database         string           `mapstructure:"database" validate:"required"`
	Models           *ModelsConfig    `mapstructure:"models" validate:"required"`
	AI               *AIConfig        `mapstructure:"ai" validate:"required"`
	Knowledge        *KnowledgeConfig `mapstructure:"knowledge" validate:"required"`
	Ranking          *RankingConfig   `mapstructure:"ranking"`
	Browser          *BrowserConfig   `mapstructure:"browser" validate:"required"`
	Apply            *ApplyConfig     `mapstructure:"apply"`
}

type ModelsConfig struct {
	Agent     string `mapstructure:"agent" validate:"required"`
	Knowledge string `mapstructure:"knowledge" validate:"required"`
	Resume    string `mapstructure:"resume" validate:"required"`
	Embedding string `mapstructure:"embedding"`
}

type AIConfig struct {
	Provider          string `mapstructure:"provider" validate:"oneof=groq gemini"`
	APIKey            string `mapstructure:"api-key"`
	APIKeyFile        string `mapstructure:"api-key-file"`
	GeminiAPIKey      string `mapstructure:"gemini-api-key"`
	GeminiAPIKeyFile  string `mapstructure:"gemini-api-key-file"`
	GeminiModel       string `mapstructure:"gemini-model"`
	BaseURL           string `mapstructure:"base-url" validate:"omitempty,url"`
	MaxRetries        int    `mapstructure:"max-retries" validate:"gte=0"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute" validate:"gte=0"`
}

type KnowledgeConfig struct {
	Subject    string `mapstructure:"subject" validate:"required"`
	TopK       int    `mapstructure:"top-k" validate:"gte=1"`
	Embeddings bool   `mapstructure:"embeddings"`
}

type RankingConfig struct {
	TruncateChars int `mapstructure:"truncate-chars" validate:"gte=0"`
}

type BrowserConfig struct {
	ExecutablePath     string        `mapstructure:"executable-path"`
	UserDataDir        string        `mapstructure:"user-data-dir"`
	ProfileDirectory   string        `mapstructure:"profile-directory"`
	Headless           bool          `mapstructure:"headless"`
	WaitBetweenActions time.Duration `mapstructure:"wait-between-actions" validate:"gte=0"`
	MaxSteps           int           `mapstructure:"max-steps" validate:"gte=0"`
}

type ApplyConfig struct {
	EvaluateFit bool `mapstructure:"evaluate-fit"`
	SkipUnfit   bool `mapstructure:"skip-unfit"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "auto-applier fills in job application forms with a browser agent, your resumes and your knowledge base",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

var envBindings = map[string]string{
	"knowledge-base-dir":        "KNOWLEDGE_BASE_DIR",
	"resumes-dir":               "RESUMES_DIR",
	"database":                  "DATABASE_PATH",
	"models.agent":              "AGENT_MODEL_NAME",
	"models.knowledge":          "MEM0_MODEL_NAME",
	"models.resume":             "RESUME_MODEL_NAME",
	"models.embedding":          "EMBEDDING_MODEL_NAME",
	"ai.provider":               "AI_PROVIDER",
	"ai.api-key-file":           "AI_API_KEY_FILE",
	"ai.gemini-api-key-file":    "GEMINI_API_KEY_FILE",
	"browser.executable-path":   "BROWSER_EXECUTABLE_PATH",
	"browser.user-data-dir":     "BROWSER_USER_DATA_DIR",
	"browser.profile-directory": "BROWSER_PROFILE_DIR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("knowledge-base-dir", "user_data/knowledge_base")
	v.SetDefault("resumes-dir", "user_data/resumes")
	v.SetDefault("database", "user_data/auto-applier.db")

	v.SetDefault("models.agent", "meta-llama/llama-4-scout-17b-16e-instruct")
	v.SetDefault("models.knowledge", "openai/gpt-oss-120b")
	v.SetDefault("models.resume", "llama-3.1-8b-instant")
	v.SetDefault("models.embedding", "gemini-embedding-001")

	v.SetDefault("ai.provider", "groq")
	v.SetDefault("ai.gemini-model", "gemini-2.5-flash")
	v.SetDefault("ai.max-retries", 3)
	v.SetDefault("ai.requests-per-minute", 30)

	v.SetDefault("knowledge.subject", "applicant")
	v.SetDefault("knowledge.top-k", 5)
	v.SetDefault("knowledge.embeddings", true)

	v.SetDefault("ranking.truncate-chars", 2000)

	v.SetDefault("browser.user-data-dir", "./profile")
	v.SetDefault("browser.profile-directory", "Default")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.wait-between-actions", time.Second)
	v.SetDefault("browser.max-steps", 50)

	v.SetDefault("apply.evaluate-fit", false)
	v.SetDefault("apply.skip-unfit", false)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("binding %s environment variable: %w", env, err)
		}
	}
	return nil
}

func init() {
	setDefaults(viper.GetViper())
	if err := bindEnv(viper.GetViper()); err != nil {
		log.Fatal(err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is auto-applier.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// .env is optional, real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		// We can't proceed if the config file parsed with error.
		log.Fatal(err)
	}
}

// readConfig reads the explicit file or, when none is given, an optional
// auto-applier.yaml from the current directory.
func readConfig(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.AddConfigPath(".")
	v.SetConfigName(app)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("config is required")
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
