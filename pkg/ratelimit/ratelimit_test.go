package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyModel struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (m *flakyModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	n := m.calls.Add(1)
	if n <= m.failures {
		return nil, m.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (m *flakyModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *flakyModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	current := time.Now()
	tb.now = func() time.Time { return current }
	tb.lastRefillTime = current

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "桶已空")

	current = current.Add(time.Second)
	assert.True(t, tb.Allow(), "一秒后补充一个令牌")
	assert.False(t, tb.Allow())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"超时", errors.New("request timeout"), true},
		{"429状态", &StatusError{StatusCode: 429}, true},
		{"5xx状态", fmt.Errorf("call: %w", &StatusError{StatusCode: 503}), true},
		{"4xx状态", &StatusError{StatusCode: 400, Body: "timeout in body"}, false},
		{"配额耗尽", errors.New("Error 429, RESOURCE_EXHAUSTED"), true},
		{"主动取消", context.Canceled, false},
		{"普通错误", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRateLimitedChatModelRetriesRetryableErrors(t *testing.T) {
	inner := &flakyModel{failures: 2, err: &StatusError{StatusCode: 503}}
	limited := NewRateLimitedChatModel(inner, 6000).WithRetryPolicy(time.Millisecond, 3)

	msg, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestRateLimitedChatModelDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyModel{failures: 5, err: &StatusError{StatusCode: 401}}
	limited := NewRateLimitedChatModel(inner, 6000).WithRetryPolicy(time.Millisecond, 3)

	_, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRateLimitedChatModelGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyModel{failures: 10, err: errors.New("connection reset by peer")}
	limited := NewRateLimitedChatModel(inner, 6000).WithRetryPolicy(time.Millisecond, 2)

	_, err := limited.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestNewChatModelWithRateLimitQPM(t *testing.T) {
	limits := map[string]int{"gemini-2.0-flash-exp": 100}

	m := NewChatModelWithRateLimit(&flakyModel{}, "gemini-2.0-flash-exp", limits, 10, 0, 0)
	assert.InDelta(t, 90.0/60.0, m.rateLimiter.rate, 1e-9)
	assert.Equal(t, defaultMaxRetries, m.rateLimiter.maxRetries)

	m = NewChatModelWithRateLimit(&flakyModel{}, "other", limits, 12, 1, 0)
	assert.InDelta(t, 12.0/60.0, m.rateLimiter.rate, 1e-9)
	assert.Equal(t, 1, m.rateLimiter.maxRetries)

	m = NewChatModelWithRateLimit(&flakyModel{}, "", nil, 0, 0, 0)
	assert.InDelta(t, float64(defaultQPM)/60.0, m.rateLimiter.rate, 1e-9)
}

func TestRateLimitedChatModelWithToolsSharesBucket(t *testing.T) {
	limited := NewRateLimitedChatModel(&flakyModel{}, 60)
	bound, err := limited.WithTools(nil)
	require.NoError(t, err)
	assert.Same(t, limited.rateLimiter, bound.(*RateLimitedChatModel).rateLimiter)
}
