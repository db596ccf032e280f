package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse MockChatModel 的一次预设响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatModel 测试用对话模型，可并发调用。
// Responder 非空时优先使用；否则按顺序返回 Responses，用完后重复最后一条。
type MockChatModel struct {
	Responder func(messages []*schema.Message) (string, error)
	Responses []MockResponse

	mu       sync.Mutex
	calls    int
	received [][]*schema.Message
}

// NewMockChatModel 返回固定响应的模型
func NewMockChatModel(content string, err error) *MockChatModel {
	return &MockChatModel{Responses: []MockResponse{{Content: content, Error: err}}}
}

// NewMockChatModelSequential 按顺序返回不同响应
func NewMockChatModelSequential(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{Responses: responses}
}

// Generate 实现 model.BaseChatModel
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.received = append(m.received, append([]*schema.Message(nil), input...))
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content string
	var err error
	switch {
	case m.Responder != nil:
		content, err = m.Responder(input)
	case len(m.Responses) == 0:
		err = errors.New("mock model has no responses configured")
	default:
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		content, err = m.Responses[idx].Content, m.Responses[idx].Error
	}
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

// Stream 不支持
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not implemented in MockChatModel")
}

// WithTools 返回自身
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// Calls 已发生的 Generate 调用次数
func (m *MockChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Received 每次调用收到的消息
func (m *MockChatModel) Received() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.received))
	copy(out, m.received)
	return out
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)
