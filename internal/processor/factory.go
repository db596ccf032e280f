package processor

import (
	"context"
	"fmt"
	"strings"

	"resume-ranker/internal/config"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/parser"
	"resume-ranker/internal/storage"
	"resume-ranker/pkg/llm"

	"github.com/cloudwego/eino/components/embedding"
)

// NewEmbedder 按 embedding.provider 创建向量后端
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return parser.NewOpenAICompatibleEmbedder(cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.BaseURL, nil)
	case "gemini":
		return parser.NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	case "hash":
		return parser.NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("不支持的 embedding.provider: %q", cfg.Provider)
	}
}

// BuildPipeline 按配置组装流水线。store 可为 nil；
// 配置了 Redis 且 cache_ttl 非空时启用向量缓存，配置了 RabbitMQ 时可发布结果。
func BuildPipeline(ctx context.Context, cfg *config.Config, store *storage.Storage, m *metrics.Metrics) (*ResumePipeline, error) {
	chatModel, err := llm.NewChatModel(ctx, cfg.LLM, cfg.ModelQPMLimits)
	if err != nil {
		return nil, fmt.Errorf("创建生成模型失败: %w", err)
	}

	embedder, err := NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("创建向量模型失败: %w", err)
	}
	if store != nil && store.Redis != nil && cfg.Embedding.CacheTTL != "" {
		ttl := config.GetDuration(cfg.Embedding.CacheTTL, 0)
		cached, err := NewCachedEmbedder(embedder, store.Redis, cfg.Embedding.Model, ttl, m)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}
	embeddings, err := NewEmbeddingService(embedder, cfg.Embedding.BatchSize)
	if err != nil {
		return nil, err
	}

	chunker, err := parser.NewRecursiveChunker(
		parser.WithChunkSize(cfg.Pipeline.ChunkSize),
		parser.WithChunkOverlap(cfg.Pipeline.ChunkOverlap),
	)
	if err != nil {
		return nil, err
	}

	extractor := parser.NewResumeExtractor(chatModel,
		parser.WithExtractorTemperature(float32(cfg.LLM.Temperature)),
		parser.WithExtractorQuoteRepair(cfg.Pipeline.QuoteRepair),
	)
	evaluator := parser.NewCandidateEvaluator(chatModel,
		parser.WithEvaluationTimeout(config.GetDuration(cfg.Evaluator.Timeout, 0)),
		parser.WithEvaluatorTemperature(float32(cfg.Evaluator.Temperature)),
		parser.WithEvaluatorQuoteRepair(cfg.Pipeline.QuoteRepair),
		parser.WithFallbackHook(func(reason parser.FallbackReason) {
			m.ObserveFallback(string(reason))
		}),
	)

	opts := []PipelineOption{WithPipelineMetrics(m)}
	if store != nil && store.RabbitMQ != nil {
		opts = append(opts, WithPublisher(store.RabbitMQ, cfg.RabbitMQ.ShortlistExchange, cfg.RabbitMQ.ShortlistRouteKey))
	}

	return NewResumePipeline(Components{
		Chunker:    chunker,
		Embeddings: embeddings,
		Extractor:  extractor,
		Evaluator:  evaluator,
	}, Settings{
		TopK:               cfg.Pipeline.TopK,
		RetrievalQuery:     cfg.Pipeline.RetrievalQuery,
		ExtractConcurrency: cfg.Pipeline.ExtractConcurrency,
		RankConcurrency:    cfg.Pipeline.RankConcurrency,
	}, opts...)
}
