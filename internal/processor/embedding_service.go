package processor

import (
	"context"
	"fmt"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
)

// DefaultEmbeddingBatchSize 单次向量接口调用的最大文本数
const DefaultEmbeddingBatchSize = 16

// EmbeddingService 进程启动时创建一次，注入流水线使用。
// 任何后端失败都以 ErrModelUnavailable 返回，整次运行终止。
type EmbeddingService struct {
	embedder  embedding.Embedder
	batchSize int
	logger    zerolog.Logger
}

// NewEmbeddingService batchSize <= 0 时使用默认批大小
func NewEmbeddingService(embedder embedding.Embedder, batchSize int) (*EmbeddingService, error) {
	if embedder == nil {
		return nil, NewInvalidInputError("embed", "embedder cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}
	return &EmbeddingService{
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger.Component("embedding_service"),
	}, nil
}

// EmbedChunks 输出顺序与输入一致
func (s *EmbeddingService) EmbedChunks(ctx context.Context, chunks []types.Chunk) ([]types.EmbeddingVector, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return s.EmbedTexts(ctx, texts)
}

// EmbedQuery 单条查询文本的向量
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) (types.EmbeddingVector, error) {
	vecs, err := s.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts 分批调用后端，校验数量和维度
func (s *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([]types.EmbeddingVector, error) {
	if len(texts) == 0 {
		return []types.EmbeddingVector{}, nil
	}

	out := make([]types.EmbeddingVector, 0, len(texts))
	dim := -1
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		vecs, err := s.embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Error().Err(err).Int("batch_start", start).Int("batch_size", end-start).Msg("向量模型调用失败")
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrModelUnavailable, end-start, len(vecs))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector at index %d", ErrModelUnavailable, start+i)
			}
			if dim < 0 {
				dim = len(v)
			} else if len(v) != dim {
				return nil, fmt.Errorf("%w: dimension mismatch at index %d: %d != %d", ErrModelUnavailable, start+i, len(v), dim)
			}
			out = append(out, types.EmbeddingVector(v))
		}
	}
	return out, nil
}
