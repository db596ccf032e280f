package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"resume-ranker/internal/types"
)

const (
	// DefaultTopK 检索返回的片段数
	DefaultTopK = 5
	// DefaultRetrievalQuery 固定检索查询
	DefaultRetrievalQuery = "Extract candidate information"
)

// ScoredChunk 检索结果，Index 为片段在文档中的原始序号
type ScoredChunk struct {
	Chunk types.Chunk
	Index int
	Score float64
}

// Retrieve 按余弦相似度降序返回前 topK 个片段，相似度相同时保持原始顺序。
// topK <= 0 时取 DefaultTopK，超过片段数时返回全部。
func Retrieve(query types.EmbeddingVector, chunks []types.Chunk, vectors []types.EmbeddingVector, topK int) ([]ScoredChunk, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidInput, len(chunks), len(vectors))
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	scored := make([]ScoredChunk, len(chunks))
	for i, vec := range vectors {
		if len(vec) != len(query) {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, query has %d", ErrInvalidInput, i, len(vec), len(query))
		}
		scored[i] = ScoredChunk{Chunk: chunks[i], Index: i, Score: Cosine(query, vec)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// Cosine 余弦相似度，任一向量范数为 0 时返回 0
func Cosine(a, b types.EmbeddingVector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Retriever 用查询向量从文档片段中选出最相关的部分
type Retriever struct {
	embeddings *EmbeddingService
	topK       int

	mu         sync.Mutex
	queryCache map[string]types.EmbeddingVector
}

// NewRetriever topK <= 0 时使用 DefaultTopK
func NewRetriever(embeddings *EmbeddingService, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embeddings: embeddings,
		topK:       topK,
		queryCache: make(map[string]types.EmbeddingVector),
	}
}

// RetrieveText 检索并用换行拼接片段文本
func (r *Retriever) RetrieveText(ctx context.Context, query string, chunks []types.Chunk, vectors []types.EmbeddingVector) (string, error) {
	qv, err := r.queryVector(ctx, query)
	if err != nil {
		return "", err
	}
	top, err := Retrieve(qv, chunks, vectors, r.topK)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(top))
	for i, sc := range top {
		parts[i] = sc.Chunk.Text
	}
	return strings.Join(parts, "\n"), nil
}

// queryVector 同一查询文本在进程内只计算一次
func (r *Retriever) queryVector(ctx context.Context, query string) (types.EmbeddingVector, error) {
	r.mu.Lock()
	qv, ok := r.queryCache[query]
	r.mu.Unlock()
	if ok {
		return qv, nil
	}

	qv, err := r.embeddings.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.queryCache[query] = qv
	r.mu.Unlock()
	return qv, nil
}
