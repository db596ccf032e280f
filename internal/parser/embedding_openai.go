package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"resume-ranker/internal/logger"
	"resume-ranker/pkg/llm"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-v3"
	defaultOpenAIEmbeddingURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
)

// OpenAICompatibleEmbedder 调用 OpenAI 兼容的 /embeddings 接口，实现 embedding.Embedder
type OpenAICompatibleEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *llm.JSONClient
	logger     zerolog.Logger
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAICompatibleEmbedder 创建向量客户端，model 与 baseURL 为空时使用 DashScope 默认值
func NewOpenAICompatibleEmbedder(apiKey, model string, dimensions int, baseURL string, client *llm.JSONClient) (*OpenAICompatibleEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIEmbeddingURL
	}
	if client == nil {
		var err error
		if client, err = llm.NewJSONClient(0); err != nil {
			return nil, err
		}
	}
	return &OpenAICompatibleEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		baseURL:    baseURL,
		client:     client,
		logger:     logger.Component("openai_embedder"),
	}, nil
}

// ModelName 返回默认向量模型名
func (a *OpenAICompatibleEmbedder) ModelName() string {
	return a.model
}

// EmbedStrings 实现 embedding.Embedder，输出顺序与输入一致
func (a *OpenAICompatibleEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	model := a.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}

	req := embeddingRequest{
		Input:          texts,
		Model:          model,
		Dimensions:     a.dimensions,
		EncodingFormat: "float",
	}

	var resp embeddingResponse
	if err := a.client.PostJSON(ctx, a.baseURL, a.apiKey, req, &resp); err != nil {
		a.logger.Warn().Err(err).Str("model", model).Int("texts", len(texts)).Msg("向量接口调用失败")
		return nil, err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", resp.Error.Type, resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("向量数量不匹配: 请求 %d, 返回 %d", len(texts), len(resp.Data))
	}

	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float64, len(resp.Data))
	for i, entry := range resp.Data {
		out[i] = entry.Embedding
	}

	a.logger.Debug().
		Int("texts", len(texts)).
		Int("dim", len(out[0])).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("向量生成完成")
	return out, nil
}

var _ embedding.Embedder = (*OpenAICompatibleEmbedder)(nil)
