package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/factory"
	"github.com/mikey/sortana/internal/logging"
	"github.com/mikey/sortana/internal/settings"
	"github.com/mikey/sortana/internal/sorter"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// LLM provider flags
	Provider     string
	Endpoint     string
	Template     string
	SystemPrompt string

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string
	OpenAIBaseURL   string

	// Extraction flags
	HTMLToMarkdown     bool
	StripURLParams     bool
	AltTextImages      bool
	CollapseWhitespace bool

	// UseStore opens the configured persistence backend instead of an empty in-memory one
	UseStore bool

	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}

	// Register LLM client
	if err := container.Provide(func(f *factory.LLMFactory) (core.Completer, error) {
		return f.CreateCompleter(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register persistence: nothing is written unless the user asks for the real store
	if err := container.Provide(func(flags *CLIFlags, f *factory.StoreFactory, logger *zap.Logger) (core.Store, error) {
		if flags.UseStore {
			return f.CreateStore(context.Background())
		}
		return store.NewMemoryStore(logger), nil
	}); err != nil {
		return nil, err
	}

	// Register sorter service over an empty mail store
	if err := container.Provide(func(cfg *config.Config, st core.Store, completer core.Completer, logger *zap.Logger) *sorter.Service {
		clsCfg := cfg.GetClassifier()
		return sorter.New(mailstore.NewMemoryStore(logger, mailstore.MemoryOptions{}), st, completer, logger, sorter.Options{
			Defaults: settings.Defaults(cfg),
			Breaker: classifier.BreakerSettings{
				MaxFailures: clsCfg.MaxFailures,
				OpenTimeout: clsCfg.OpenTimeout,
			},
		})
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// Set LLM provider
	v.Set("llm.provider", flags.Provider)
	if flags.Endpoint != "" {
		v.Set("classifier.endpoint", flags.Endpoint)
	}
	if flags.Template != "" {
		v.Set("classifier.template", flags.Template)
	}
	if flags.SystemPrompt != "" {
		v.Set("classifier.system_prompt", flags.SystemPrompt)
	}

	// Set provider-specific configuration
	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.base_url", flags.OpenAIBaseURL)
	}

	// Set extraction toggles
	v.Set("extract.html_to_markdown", flags.HTMLToMarkdown)
	v.Set("extract.strip_url_params", flags.StripURLParams)
	v.Set("extract.alt_text_images", flags.AltTextImages)
	v.Set("extract.collapse_whitespace", flags.CollapseWhitespace)

	if flags.Verbose {
		v.Set("logging.level", "debug")
	}

	return config.NewFromViper(v)
}
