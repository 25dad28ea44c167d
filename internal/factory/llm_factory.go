package factory

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/completions"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
)

// LLMFactory creates classification backends
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter creates the backend named by llm.provider
func (f *LLMFactory) CreateCompleter(ctx context.Context) (core.Completer, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "", "completions":
		return completions.NewClient(&http.Client{}, f.logger.Named("completions")), nil
	case "bedrock":
		return f.createBedrock(ctx)
	case "gemini":
		return f.createGemini(ctx)
	case "openai":
		return f.createOpenAI()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}
