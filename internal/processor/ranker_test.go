package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resume-ranker/internal/metrics"
	"resume-ranker/internal/parser"
	"resume-ranker/internal/types"
	"resume-ranker/pkg/llm"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankEmpty(t *testing.T) {
	eval := &fakeEvaluator{}
	got := NewRanker(eval).Rank(context.Background(), nil, "jd")
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, eval.calls)
}

func TestRankTiesKeepInputOrder(t *testing.T) {
	eval := &fakeEvaluator{scores: map[string]int{"A": 80, "B": 80, "C": 90}}
	in := []*types.CandidateRecord{candidate("A"), candidate("B"), candidate("C")}

	got := NewRanker(eval).Rank(context.Background(), in, "jd")
	assert.Equal(t, []string{"C", "A", "B"}, ids(got))
	assert.Equal(t, 3, eval.calls)
}

func TestRankWithCandidateEvaluator(t *testing.T) {
	scores := map[string]int{"cand1": 90, "cand2": 70, "cand3": 95}
	mock := &llm.MockChatModel{Responder: func(messages []*schema.Message) (string, error) {
		prompt := messages[len(messages)-1].Content
		for name, score := range scores {
			if strings.Contains(prompt, "Name: "+name+"\n") {
				return evaluationJSON(score), nil
			}
		}
		return "", errors.New("unknown candidate")
	}}
	evaluator := parser.NewCandidateEvaluator(mock)

	in := []*types.CandidateRecord{
		candidate("cand1", "Go", "SQL"),
		candidate("cand2", "Java"),
		candidate("cand3", "Go", "Kafka", "Kubernetes"),
	}
	extractedBefore := make([]types.ExtractedFields, len(in))
	for i, c := range in {
		extractedBefore[i] = c.Extracted
	}

	m := metrics.New(nil)
	got := NewRanker(evaluator, WithRankerMetrics(m)).Rank(context.Background(), in, "Senior Go engineer")

	require.Len(t, got, len(in))
	assert.Equal(t, []string{"cand3", "cand1", "cand2"}, ids(got))
	for _, c := range got {
		require.NotNil(t, c.Evaluation)
		assert.Equal(t, scores[c.ID], c.Evaluation.Score)
		assert.Equal(t, types.RecommendationGoodFit, c.Evaluation.Recommendation)
	}
	for i, c := range in {
		assert.Equal(t, extractedBefore[i], c.Extracted)
	}
	assert.Equal(t, 3, mock.Calls())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CandidatesRanked))
}

func TestRankFallbackUsesPreliminaryScore(t *testing.T) {
	evaluator := parser.NewCandidateEvaluator(llm.NewMockChatModel("", errors.New("503")))
	in := []*types.CandidateRecord{
		candidate("few", "Go"),
		candidate("many", "Go", "SQL", "Kafka"),
	}

	got := NewRanker(evaluator).Rank(context.Background(), in, "jd")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"many", "few"}, ids(got))
	assert.Equal(t, 30, got[0].Score())
	assert.Equal(t, types.FallbackSummary, got[0].Evaluation.Summary)
}

func TestRankIgnoresCallerCancellation(t *testing.T) {
	eval := &fakeEvaluator{scores: map[string]int{"A": 10, "B": 60}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewRanker(eval).Rank(ctx, []*types.CandidateRecord{candidate("A"), candidate("B")}, "jd")
	assert.Equal(t, []string{"B", "A"}, ids(got))
	assert.Equal(t, 60, got[0].Score())
}

func TestRankConcurrencyLimit(t *testing.T) {
	eval := &fakeEvaluator{scores: map[string]int{}, delay: 20 * time.Millisecond}
	in := make([]*types.CandidateRecord, 6)
	for i := range in {
		in[i] = candidate(string(rune('a' + i)))
	}

	got := NewRanker(eval, WithRankConcurrency(2)).Rank(context.Background(), in, "jd")
	assert.Len(t, got, 6)
	assert.LessOrEqual(t, eval.peak, 2)
	assert.Equal(t, 6, eval.calls)
}

func TestRankKeepsNilCandidatesLast(t *testing.T) {
	eval := &fakeEvaluator{scores: map[string]int{"A": 50, "B": 70}}
	in := []*types.CandidateRecord{nil, candidate("A"), nil, candidate("B")}

	got := NewRanker(eval).Rank(context.Background(), in, "jd")
	require.Len(t, got, len(in))
	assert.Equal(t, []string{"B", "A"}, ids(got[:2]))
	assert.Nil(t, got[2])
	assert.Nil(t, got[3])
	assert.Equal(t, 2, eval.calls)
}
