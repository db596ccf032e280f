package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/storage"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// VectorCache 向量缓存后端，*storage.Redis 实现了该接口。
// 未命中时 GetVector 返回 storage.ErrNotFound。
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float64, error)
	SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error
}

var _ VectorCache = (*storage.Redis)(nil)

// modelNamer 后端可选实现，用于区分不同模型的缓存
type modelNamer interface {
	ModelName() string
}

// CachedEmbedder 以 model+sha256(text) 为键缓存向量。
// 相同的未命中批次在并发时只调用一次后端；缓存故障退化为直接调用。
type CachedEmbedder struct {
	inner   embedding.Embedder
	model   string
	cache   VectorCache
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewCachedEmbedder model 为空时尝试从 inner.ModelName() 获取
func NewCachedEmbedder(inner embedding.Embedder, cache VectorCache, model string, ttl time.Duration, m *metrics.Metrics) (*CachedEmbedder, error) {
	if inner == nil || cache == nil {
		return nil, NewInvalidInputError("embed", "cached embedder needs an inner embedder and a cache")
	}
	if model == "" {
		if n, ok := inner.(modelNamer); ok {
			model = n.ModelName()
		}
	}
	if model == "" {
		return nil, NewInvalidInputError("embed", "model name is required for cache keys")
	}
	return &CachedEmbedder{
		inner:   inner,
		model:   model,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Component("embedding_cache"),
	}, nil
}

// ModelName 返回缓存所属模型名
func (c *CachedEmbedder) ModelName() string {
	return c.model
}

// CacheKey 计算文本的缓存键
func (c *CachedEmbedder) CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return storage.EmbeddingKey(c.model, hex.EncodeToString(sum[:]))
}

// EmbedStrings 实现 embedding.Embedder
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))

	// 同一批次内重复的文本只计算一次
	missIdx := make(map[string][]int)
	var missKeys []string
	var missTexts []string
	for i, t := range texts {
		keys[i] = c.CacheKey(t)
		vec, err := c.cache.GetVector(ctx, keys[i])
		if err == nil && len(vec) > 0 {
			c.metrics.CacheHit()
			out[i] = vec
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug().Err(err).Msg("向量缓存读取失败，直接调用模型")
		}
		c.metrics.CacheMiss()
		if _, seen := missIdx[keys[i]]; !seen {
			missKeys = append(missKeys, keys[i])
			missTexts = append(missTexts, t)
		}
		missIdx[keys[i]] = append(missIdx[keys[i]], i)
	}
	if len(missKeys) == 0 {
		return out, nil
	}

	flightKey := strings.Join(missKeys, "|")
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		vecs, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
		}
		for i, vec := range vecs {
			if err := c.cache.SetVector(ctx, missKeys[i], vec, c.ttl); err != nil {
				c.logger.Warn().Err(err).Msg("向量缓存写入失败")
			}
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}

	vecs := v.([][]float64)
	for i, key := range missKeys {
		for _, idx := range missIdx[key] {
			out[idx] = append([]float64(nil), vecs[i]...)
		}
	}
	return out, nil
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)
