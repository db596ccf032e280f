package parser

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/cloudwego/eino/components/embedding"
)

// DefaultHashDimensions 本地哈希向量的默认维度
const DefaultHashDimensions = 256

// HashEmbedder 本地特征哈希向量，不依赖外部服务，用于离线运行和测试。
// 词和字符三元组被哈希到固定维度，结果做 L2 归一化，同一文本总是得到同一向量。
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder dimensions <= 0 时使用默认维度
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// ModelName 向量缓存键的一部分
func (h *HashEmbedder) ModelName() string {
	return "feature-hash"
}

// EmbedStrings 实现 embedding.Embedder
func (h *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, h.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1.0)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "g:"+string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// add 用哈希值的最高位决定符号，降低碰撞带来的偏差
func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

var _ embedding.Embedder = (*HashEmbedder)(nil)
