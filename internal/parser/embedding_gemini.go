package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// DefaultGeminiEmbeddingModel 默认向量模型
const DefaultGeminiEmbeddingModel = "text-embedding-004"

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder 通过 genai Models.EmbedContent 生成向量
type GeminiEmbedder struct {
	models     contentEmbedder
	model      string
	dimensions int
}

// NewGeminiEmbedder 创建 Gemini API 向量客户端
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
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
	return newGeminiEmbedder(client.Models, model, dimensions), nil
}

func newGeminiEmbedder(models contentEmbedder, model string, dimensions int) *GeminiEmbedder {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{models: models, model: model, dimensions: dimensions}
}

// ModelName 返回向量模型名
func (g *GeminiEmbedder) ModelName() string {
	return g.model
}

// EmbedStrings 实现 embedding.Embedder
func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	model := g.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if g.dimensions > 0 {
		dim := int32(g.dimensions)
		cfg.OutputDimensionality = &dim
	}

	resp, err := g.models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", got, len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini returned empty embedding at %d", i)
		}
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)
