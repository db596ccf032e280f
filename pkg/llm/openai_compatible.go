package llm

import (
	"context"
	"fmt"
	"strings"

	"resume-ranker/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	// DashScope 的 OpenAI 兼容端点
	defaultOpenAICompatibleURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultOpenAICompatibleLLM = "qwen-plus"
)

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string  `json:"role"`
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAICompatibleChatModel 通过 OpenAI 兼容的 /chat/completions 接口调用模型
type OpenAICompatibleChatModel struct {
	apiKey    string
	modelName string
	apiURL    string
	defaults  model.Options
	client    *JSONClient
	tools     []openAITool
	logger    zerolog.Logger
}

// OpenAICompatibleOption 模型选项
type OpenAICompatibleOption func(*OpenAICompatibleChatModel)

// WithDefaultTemperature 未在调用时指定温度时使用的默认值
func WithDefaultTemperature(t float32) OpenAICompatibleOption {
	return func(m *OpenAICompatibleChatModel) {
		m.defaults.Temperature = &t
	}
}

// WithDefaultMaxTokens 未在调用时指定时使用的最大输出长度
func WithDefaultMaxTokens(n int) OpenAICompatibleOption {
	return func(m *OpenAICompatibleChatModel) {
		if n > 0 {
			m.defaults.MaxTokens = &n
		}
	}
}

// WithJSONClient 替换底层 HTTP 客户端
func WithJSONClient(c *JSONClient) OpenAICompatibleOption {
	return func(m *OpenAICompatibleChatModel) {
		m.client = c
	}
}

// NewOpenAICompatibleChatModel 创建模型，modelName 与 apiURL 为空时使用 DashScope 默认值
func NewOpenAICompatibleChatModel(apiKey, modelName, apiURL string, opts ...OpenAICompatibleOption) (*OpenAICompatibleChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultOpenAICompatibleLLM
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultOpenAICompatibleURL
	}

	m := &OpenAICompatibleChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		apiURL:    apiURL,
		logger:    logger.Component("openai_compatible_llm"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		c, err := NewJSONClient(0)
		if err != nil {
			return nil, err
		}
		m.client = c
	}
	m.logger.Info().Str("api_url", apiURL).Str("model", modelName).Msg("使用 OpenAI 兼容 LLM 客户端")
	return m, nil
}

// ModelName 返回模型名
func (m *OpenAICompatibleChatModel) ModelName() string {
	return m.modelName
}

// Generate 实现 model.BaseChatModel
func (m *OpenAICompatibleChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	defaults := m.defaults
	options := model.GetCommonOptions(&defaults, opts...)

	modelName := m.modelName
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	reqPayload := chatCompletionRequest{
		Model:       modelName,
		Messages:    make([]openAIMessage, 0, len(messages)),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
		Tools:       m.tools,
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		reqPayload.Messages = append(reqPayload.Messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}

	var out chatCompletionResponse
	if err := m.client.PostJSON(ctx, m.apiURL, m.apiKey, reqPayload, &out); err != nil {
		m.logger.Warn().Err(err).Str("model", modelName).Msg("LLM 调用失败")
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	choice := out.Choices[0].Message
	result := &schema.Message{Role: schema.Assistant}
	if choice.Role != "" {
		result.Role = schema.RoleType(choice.Role)
	}
	if choice.Content != nil {
		result.Content = *choice.Content
	}
	for _, tc := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}

	m.logger.Debug().
		Str("model", modelName).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Msg("LLM 调用完成")
	return result, nil
}

// Stream 不支持流式输出
func (m *OpenAICompatibleChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAICompatibleChatModel 不支持 Stream")
}

// WithTools 返回绑定了工具的新实例，工具参数一律声明为空对象
func (m *OpenAICompatibleChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	clone := *m
	clone.tools = make([]openAITool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		clone.tools = append(clone.tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Desc,
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		})
	}
	return &clone, nil
}

var _ model.ToolCallingChatModel = (*OpenAICompatibleChatModel)(nil)
