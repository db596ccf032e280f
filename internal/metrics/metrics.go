// Package metrics 定义流水线使用的 Prometheus 指标，并提供 /metrics 抓取端点。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"resume-ranker/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resume_ranker"

// Metrics 流水线的全部指标。nil *Metrics 的所有方法都是空操作。
type Metrics struct {
	DocumentsProcessed  *prometheus.CounterVec
	ExtractionFailures  prometheus.Counter
	EvaluationFallbacks *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	EmbeddingCacheHits  prometheus.Counter
	EmbeddingCacheMiss  prometheus.Counter
	CandidatesRanked    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New 创建指标并注册到 reg，reg 为 nil 时使用独立的新 registry
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		DocumentsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Documents run through extraction, by outcome (candidate, error).",
			},
			[]string{"outcome"},
		),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Documents whose structured extraction failed.",
		}),
		EvaluationFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_fallbacks_total",
				Help:      "Candidate evaluations that fell back to the neutral result, by reason.",
			},
			[]string{"reason"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Latency of pipeline stages in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		EmbeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding vectors served from the cache.",
		}),
		EmbeddingCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding vectors computed by the backend.",
		}),
		CandidatesRanked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_ranked_total",
			Help:      "Candidates placed in a ranked shortlist.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.DocumentsProcessed,
		m.ExtractionFailures,
		m.EvaluationFallbacks,
		m.StageDuration,
		m.EmbeddingCacheHits,
		m.EmbeddingCacheMiss,
		m.CandidatesRanked,
	)
	return m
}

// ObserveDocument 记录一个文档的抽取结果
func (m *Metrics) ObserveDocument(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.DocumentsProcessed.WithLabelValues("candidate").Inc()
		return
	}
	m.DocumentsProcessed.WithLabelValues("error").Inc()
	m.ExtractionFailures.Inc()
}

// ObserveFallback 记录一次评估兜底
func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.EvaluationFallbacks.WithLabelValues(reason).Inc()
}

// ObserveStage 记录阶段耗时
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// CacheHit 向量缓存命中
func (m *Metrics) CacheHit() {
	if m != nil {
		m.EmbeddingCacheHits.Inc()
	}
}

// CacheMiss 向量缓存未命中
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.EmbeddingCacheMiss.Inc()
	}
}

// AddRanked 记录排序输出的候选人数量
func (m *Metrics) AddRanked(n int) {
	if m != nil && n > 0 {
		m.CandidatesRanked.Add(float64(n))
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve 在 addr 上暴露 /metrics，直到 ctx 结束
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
