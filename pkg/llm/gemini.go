package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-ranker/internal/logger"
	"resume-ranker/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultGeminiModel 默认生成模型
const DefaultGeminiModel = "gemini-2.0-flash-exp"

// contentGenerator 是 genai.Models 中用到的部分，便于测试替换
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatModel 用 google.golang.org/genai 实现 eino 的对话模型接口
type GeminiChatModel struct {
	models    contentGenerator
	modelName string
	defaults  model.Options
	logger    zerolog.Logger
}

// GeminiOption 模型选项
type GeminiOption func(*GeminiChatModel)

// WithGeminiTemperature 默认采样温度
func WithGeminiTemperature(t float32) GeminiOption {
	return func(g *GeminiChatModel) {
		g.defaults.Temperature = &t
	}
}

// WithGeminiMaxTokens 默认最大输出长度
func WithGeminiMaxTokens(n int) GeminiOption {
	return func(g *GeminiChatModel) {
		if n > 0 {
			g.defaults.MaxTokens = &n
		}
	}
}

// NewGeminiChatModel 创建 Gemini API 客户端
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*GeminiChatModel, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiChatModel(client.Models, modelName, opts...), nil
}

func newGeminiChatModel(models contentGenerator, modelName string, opts ...GeminiOption) *GeminiChatModel {
	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = DefaultGeminiModel
	}
	g := &GeminiChatModel{
		models:    models,
		modelName: modelName,
		logger:    logger.Component("gemini_llm"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelName 返回模型名
func (g *GeminiChatModel) ModelName() string {
	return g.modelName
}

// Generate 系统消息并入 SystemInstruction，其余消息按角色转换为 genai.Content
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	defaults := g.defaults
	options := model.GetCommonOptions(&defaults, opts...)

	modelName := g.modelName
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*options.Temperature)
	}
	if options.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*options.MaxTokens)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(contents) == 0 {
		return nil, errors.New("prompt must not be empty")
	}

	resp, err := g.models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		g.logger.Warn().Err(err).Str("model", modelName).Msg("Gemini 调用失败")
		return nil, fmt.Errorf("generate content: %w", classifyGeminiError(err))
	}

	text := collectText(resp)
	if text == "" {
		return nil, errors.New("gemini api returned empty response")
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream 不支持流式输出
func (g *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("GeminiChatModel 不支持 Stream")
}

// WithTools 本模型只用于纯文本生成，工具被忽略
func (g *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return g, nil
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// classifyGeminiError 把 genai.APIError 转成带状态码的错误，供限流代理判断重试
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ratelimit.StatusError{StatusCode: apiErr.Code, Body: apiErr.Status + ": " + apiErr.Message}
	}
	return err
}
