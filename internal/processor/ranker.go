package processor

import (
	"context"
	"sort"
	"time"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/types"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CandidateEvaluator 对单个候选人打分，永不返回错误
type CandidateEvaluator interface {
	Evaluate(ctx context.Context, candidate *types.CandidateRecord, jobDescription string) types.EvaluationFields
}

// Ranker 并发评估候选人并按分数稳定排序
type Ranker struct {
	evaluator   CandidateEvaluator
	concurrency int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// RankerOption Ranker 配置项
type RankerOption func(*Ranker)

// WithRankConcurrency 同时进行的评估数上限，0 表示不限制
func WithRankConcurrency(n int) RankerOption {
	return func(r *Ranker) {
		r.concurrency = n
	}
}

// WithRankerMetrics 设置指标
func WithRankerMetrics(m *metrics.Metrics) RankerOption {
	return func(r *Ranker) {
		r.metrics = m
	}
}

// NewRanker 创建排序器
func NewRanker(evaluator CandidateEvaluator, opts ...RankerOption) *Ranker {
	r := &Ranker{
		evaluator: evaluator,
		logger:    logger.Component("ranker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank 评估全部候选人，把结果写回各自的评估分组，返回按分数降序的新切片。
// 分数相同的候选人保持输入顺序；nil 不参与评估，原样排在末尾，输出长度与输入相同。
// 调用方取消 ctx 不会中断已开始的评估。
func (r *Ranker) Rank(ctx context.Context, candidates []*types.CandidateRecord, jobDescription string) []*types.CandidateRecord {
	if len(candidates) == 0 {
		return []*types.CandidateRecord{}
	}
	start := time.Now()
	defer r.metrics.ObserveStage("rank", start)

	evalCtx := context.WithoutCancel(ctx)
	results := make([]types.EvaluationFields, len(candidates))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, c := range candidates {
		if c == nil {
			continue
		}
		g.Go(func() error {
			results[i] = r.evaluator.Evaluate(evalCtx, c, jobDescription)
			return nil
		})
	}
	_ = g.Wait()

	ranked := make([]*types.CandidateRecord, 0, len(candidates))
	evaluated := 0
	for i, c := range candidates {
		if c != nil {
			c.Merge(results[i])
			evaluated++
		}
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i] == nil || ranked[j] == nil {
			return ranked[j] == nil && ranked[i] != nil
		}
		return ranked[i].Score() > ranked[j].Score()
	})

	r.metrics.AddRanked(evaluated)
	r.logger.Info().
		Int("candidates", evaluated).
		Dur("elapsed", time.Since(start)).
		Msg("候选人排序完成")
	return ranked
}
