package factory

import (
	"fmt"

	"github.com/mikey/sortana/internal/adapters/openai"
	"github.com/mikey/sortana/internal/core"
)

func (f *LLMFactory) createOpenAI() (core.Completer, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" && openaiCfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return openai.NewOpenAIClient(openaiCfg.APIKey, openaiCfg.BaseURL, openaiCfg.ModelName, f.logger.Named("openai")), nil
}
