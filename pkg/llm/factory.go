package llm

import (
	"context"
	"fmt"
	"time"

	"resume-ranker/internal/config"
	"resume-ranker/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
)

// NewChatModel 按配置创建生成模型，并包上共享的限流重试代理
func NewChatModel(ctx context.Context, cfg config.LLMConfig, qpmLimits map[string]int) (model.ToolCallingChatModel, error) {
	var (
		base model.ToolCallingChatModel
		err  error
	)

	switch cfg.Provider {
	case "gemini", "":
		base, err = NewGeminiChatModel(ctx, cfg.APIKey, cfg.Model,
			WithGeminiTemperature(float32(cfg.Temperature)),
			WithGeminiMaxTokens(cfg.MaxTokens),
		)
	case "openai":
		var jc *JSONClient
		jc, err = NewJSONClient(config.GetDuration(cfg.RequestTimeout, 60*time.Second))
		if err != nil {
			return nil, err
		}
		base, err = NewOpenAICompatibleChatModel(cfg.APIKey, cfg.Model, cfg.APIURL,
			WithJSONClient(jc),
			WithDefaultTemperature(float32(cfg.Temperature)),
			WithDefaultMaxTokens(cfg.MaxTokens),
		)
	default:
		return nil, fmt.Errorf("不支持的 LLM 提供方: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return ratelimit.NewChatModelWithRateLimit(
		base,
		cfg.Model,
		qpmLimits,
		cfg.QPM,
		cfg.MaxRetries,
		time.Duration(cfg.RetryWaitSeconds)*time.Second,
	), nil
}
