package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultQPM        = 30
	defaultMaxRetries = 3
	// 配置里的模型 QPM 只用九成，给其它调用方留余量
	qpmSafetyRatio = 0.9
)

// RateLimitedChatModel 给生成模型加上限流与重试的代理
type RateLimitedChatModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedChatModel 以给定 QPM 包装模型，桶容量为 QPM 的一半
func NewRateLimitedChatModel(original model.ToolCallingChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 设置重试策略
func (rl *RateLimitedChatModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedChatModel {
	rl.rateLimiter.WithRetryPolicy(waitTime, maxRetries)
	return rl
}

// Generate 限流后调用底层模型，可重试错误按退避策略重试
func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// Stream 只对建立流的调用做限流重试
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// WithTools 绑定工具后的新模型与当前代理共享同一个令牌桶
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{
		original:    newModel,
		rateLimiter: rl.rateLimiter,
	}, nil
}

var _ model.ToolCallingChatModel = (*RateLimitedChatModel)(nil)

// NewChatModelWithRateLimit 按模型名查 QPM 表决定限流速率:
// 命中时取表中值的 90%，否则用 customQPM，再否则用默认值 30。
func NewChatModelWithRateLimit(original model.ToolCallingChatModel, modelName string, qpmLimits map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) *RateLimitedChatModel {
	qpm := customQPM
	if modelQPM, ok := qpmLimits[modelName]; ok && modelQPM > 0 && modelName != "" {
		qpm = int(float64(modelQPM) * qpmSafetyRatio)
	}
	if qpm <= 0 {
		qpm = defaultQPM
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return NewRateLimitedChatModel(original, qpm).WithRetryPolicy(retryWaitTime, maxRetries)
}
