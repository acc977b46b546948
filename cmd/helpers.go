package cmd

import (
	"os"

	"github.com/neurofetch/neurofetch-go/internal/config"
	"github.com/neurofetch/neurofetch-go/internal/providers"
)

// makeProvider creates an LLM provider from the loaded config.
// API keys fall back to environment variables.
func makeProvider(cfg config.Config) providers.LLMProvider {
	switch cfg.Model.Provider {
	case "openai":
		apiKey := cfg.Model.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(apiKey, cfg.Model.APIBase, cfg.Model.Model)
	default:
		return providers.NewOllamaProvider(cfg.Model.APIBase, cfg.Model.Model)
	}
}
