package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resume-ranker/internal/parser"
	"resume-ranker/internal/storage"
	"resume-ranker/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// countingEmbedder 包装 HashEmbedder，统计调用次数并可注入错误或延迟
type countingEmbedder struct {
	inner *parser.HashEmbedder
	err   error
	delay time.Duration
	dims  []int // 非空时按序号覆盖输出维度

	calls atomic.Int32
	texts atomic.Int32
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: parser.NewHashEmbedder(64)}
}

func (c *countingEmbedder) ModelName() string { return "counting" }

func (c *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	vecs, err := c.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		if i < len(c.dims) {
			vecs[i] = vecs[i][:c.dims[i]]
		}
	}
	return vecs, nil
}

// memoryCache 进程内的 VectorCache
type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]float64
	failGet bool
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]float64)}
}

func (m *memoryCache) GetVector(ctx context.Context, key string) ([]float64, error) {
	if m.failGet {
		return nil, errors.New("connection refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]float64(nil), vec...), nil
}

func (m *memoryCache) SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error {
	if m.failSet {
		return errors.New("connection refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]float64(nil), vec...)
	return nil
}

func (m *memoryCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// fakeEvaluator 按候选人 ID 返回预设分数
type fakeEvaluator struct {
	scores map[string]int

	mu       sync.Mutex
	calls    int
	inflight int
	peak     int
	delay    time.Duration
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, c *types.CandidateRecord, jd string) types.EvaluationFields {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if ctx.Err() != nil {
		return types.FallbackEvaluation(c.PreliminaryScore)
	}
	score, ok := f.scores[c.ID]
	if !ok {
		return types.FallbackEvaluation(c.PreliminaryScore)
	}
	return types.EvaluationFields{
		Score:           score,
		MatchPercentage: score,
		Summary:         "ok",
		Strengths:       []string{},
		Gaps:            []string{},
		Recommendation:  types.RecommendationGoodFit,
	}
}

func candidate(id string, skills ...string) *types.CandidateRecord {
	doc := types.Document{ID: id, URI: id + ".pdf"}
	return types.NewCandidateRecord(doc, types.ExtractedFields{
		Name:   types.FlexString(id),
		Skills: types.FlexStrings(skills),
	})
}

func ids(records []*types.CandidateRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func evaluationJSON(score int) string {
	return fmt.Sprintf(`{"score": %d, "match_percentage": %d, "summary": "fit", "strengths": ["Go"], "gaps": [], "recommendation": "good_fit"}`, score, score)
}

func extractionJSON(name string, skills ...string) string {
	quoted := make([]string, len(skills))
	for i, s := range skills {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(`{"name": %q, "email": "%s@example.com", "skills": [%s], "experience_years": 4}`,
		name, strings.ToLower(name), strings.Join(quoted, ", "))
}
