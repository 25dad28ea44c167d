package factory

import (
	"context"
	"fmt"

	"github.com/mikey/sortana/internal/adapters/gemini"
	"github.com/mikey/sortana/internal/core"
)

func (f *LLMFactory) createGemini(ctx context.Context) (core.Completer, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	return gemini.NewGeminiClient(ctx, geminiCfg.APIKey, geminiCfg.ModelName, f.logger.Named("gemini"))
}
