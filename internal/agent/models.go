package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	ollamaapi "github.com/ollama/ollama/api"

	"churnpilot/internal/config"
)

// NewChatModel builds a tool-calling chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg config.AgentConfig) (model.ToolCallingChatModel, error) {
	switch cfg.Provider {
	case "openai", "":
		maxTokens := cfg.MaxTokens
		temperature := float32(cfg.Temperature)
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	case "ollama":
		temperature := float32(cfg.Temperature)
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Options: &ollamaapi.Options{
				Temperature: temperature,
				NumPredict:  cfg.MaxTokens,
			},
		})
	case "ark":
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "deepseek":
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Provider)
	}
}
