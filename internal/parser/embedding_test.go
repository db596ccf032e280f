package parser

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resume-ranker/pkg/llm"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestOpenAICompatibleEmbedderOrdersByIndex(t *testing.T) {
	var req embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		],"model":"text-embedding-v3","usage":{"total_tokens":4}}`))
	}))
	defer srv.Close()

	client, err := llm.NewJSONClient(5 * time.Second)
	require.NoError(t, err)
	e, err := NewOpenAICompatibleEmbedder("sk-test", "", 2, srv.URL, client)
	require.NoError(t, err)

	vecs, err := e.EmbedStrings(context.Background(), []string{"a", "b"}, embedding.WithModel("custom-model"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, []string{"a", "b"}, req.Input)
	assert.Equal(t, "custom-model", req.Model)
	assert.Equal(t, 2, req.Dimensions)
}

func TestOpenAICompatibleEmbedderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAICompatibleEmbedder("sk-test", "m", 0, srv.URL, nil)
	require.NoError(t, err)
	_, err = e.EmbedStrings(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOpenAICompatibleEmbedderEmptyInputSkipsCall(t *testing.T) {
	e, err := NewOpenAICompatibleEmbedder("sk-test", "m", 0, "http://127.0.0.1:1/unreachable", nil)
	require.NoError(t, err)
	vecs, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

type fakeContentEmbedder struct {
	model string
	cfg   *genai.EmbedContentConfig
	n     int
}

func (f *fakeContentEmbedder) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model, f.cfg = model, config
	resp := &genai.EmbedContentResponse{}
	for i := range contents[:len(contents)-f.n] {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 0.5}})
	}
	return resp, nil
}

func TestGeminiEmbedder(t *testing.T) {
	fake := &fakeContentEmbedder{}
	e := newGeminiEmbedder(fake, "", 2)

	vecs, err := e.EmbedStrings(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0.5}, {1, 0.5}}, vecs)
	assert.Equal(t, DefaultGeminiEmbeddingModel, fake.model)
	require.NotNil(t, fake.cfg.OutputDimensionality)
	assert.EqualValues(t, 2, *fake.cfg.OutputDimensionality)

	fake.n = 1
	_, err = e.EmbedStrings(context.Background(), []string{"x", "y"})
	assert.Error(t, err, "返回数量不足")
}

func TestHashEmbedderDeterministicAndNormalised(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.EmbedStrings(ctx, []string{"Go developer with Kafka", "chef"})
	require.NoError(t, err)
	b, err := e.EmbedStrings(ctx, []string{"Go developer with Kafka"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0], "批次组成不影响单条结果")
	assert.Len(t, a[0], 64)

	var norm float64
	for _, v := range a[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(0)
	vecs, err := e.EmbedStrings(context.Background(), []string{
		"candidate skills golang kubernetes",
		"golang kubernetes engineer skills",
		"pastry baking chocolate",
	})
	require.NoError(t, err)

	dot := func(x, y []float64) float64 {
		var s float64
		for i := range x {
			s += x[i] * y[i]
		}
		return s
	}
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestHashEmbedderEmptyText(t *testing.T) {
	vecs, err := NewHashEmbedder(8).EmbedStrings(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 8), vecs[0])
}
