package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-ranker/internal/constants"
	"resume-ranker/internal/logger"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/storage"
	"resume-ranker/internal/tracing"
	"resume-ranker/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("resume-ranker/processor")

// DefaultExtractConcurrency 同时抽取的文档数
const DefaultExtractConcurrency = 4

// Chunker 把文档文本切分为片段
type Chunker interface {
	Split(text string) []types.Chunk
}

// FieldExtractor 从检索出的文本中抽取结构化字段
type FieldExtractor interface {
	Extract(ctx context.Context, condensedText, jobDescription string) (*types.ExtractedFields, error)
}

// Components 流水线依赖的组件
type Components struct {
	Chunker    Chunker
	Embeddings *EmbeddingService
	Extractor  FieldExtractor
	Evaluator  CandidateEvaluator
}

// Settings 流水线参数
type Settings struct {
	TopK               int
	RetrievalQuery     string
	ExtractConcurrency int
	RankConcurrency    int
}

// PipelineOption 流水线配置项
type PipelineOption func(*ResumePipeline)

// WithPipelineMetrics 设置指标
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *ResumePipeline) {
		p.metrics = m
	}
}

// WithPublisher 设置排序结果的发布端
func WithPublisher(pub storage.Publisher, exchange, routingKey string) PipelineOption {
	return func(p *ResumePipeline) {
		p.publisher = pub
		p.exchange = exchange
		p.routingKey = routingKey
	}
}

// WithPipelineLogger 设置日志
func WithPipelineLogger(l zerolog.Logger) PipelineOption {
	return func(p *ResumePipeline) {
		p.logger = l
	}
}

// ResumePipeline 抽取与排序的对外入口
type ResumePipeline struct {
	comp      Components
	settings  Settings
	retriever *Retriever
	ranker    *Ranker
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	publisher  storage.Publisher
	exchange   string
	routingKey string
}

// NewResumePipeline 校验组件并填充默认参数
func NewResumePipeline(comp Components, set Settings, opts ...PipelineOption) (*ResumePipeline, error) {
	switch {
	case comp.Chunker == nil:
		return nil, NewInvalidInputError("new_pipeline", "chunker is required")
	case comp.Embeddings == nil:
		return nil, NewInvalidInputError("new_pipeline", "embedding service is required")
	case comp.Extractor == nil:
		return nil, NewInvalidInputError("new_pipeline", "extractor is required")
	case comp.Evaluator == nil:
		return nil, NewInvalidInputError("new_pipeline", "evaluator is required")
	}
	if set.TopK <= 0 {
		set.TopK = DefaultTopK
	}
	if strings.TrimSpace(set.RetrievalQuery) == "" {
		set.RetrievalQuery = DefaultRetrievalQuery
	}
	if set.ExtractConcurrency <= 0 {
		set.ExtractConcurrency = DefaultExtractConcurrency
	}

	p := &ResumePipeline{
		comp:      comp,
		settings:  set,
		retriever: NewRetriever(comp.Embeddings, set.TopK),
		logger:    logger.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ranker = NewRanker(comp.Evaluator,
		WithRankConcurrency(set.RankConcurrency),
		WithRankerMetrics(p.metrics),
	)
	return p, nil
}

// Extract 处理单个文档: 切分、向量化、检索、抽取。
// 抽取失败体现在 ExtractionOutcome.Failure 中；向量模型不可用时返回错误，整次运行应终止。
func (p *ResumePipeline) Extract(ctx context.Context, doc types.Document, jobDescription string) (types.ExtractionOutcome, error) {
	ctx, span := tracer.Start(ctx, "ResumePipeline.Extract", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.uri", tracing.SafeAttributeValue("document.uri", doc.URI, tracing.DefaultMaxLength)),
	))
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage("extract_document", start)

	fail := func(detail string) (types.ExtractionOutcome, error) {
		err := types.NewExtractionError(doc.ID, detail)
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		p.logger.Warn().Str("document", doc.URI).Str("reason", detail).Msg("简历抽取失败")
		return types.ExtractionOutcome{Failure: &types.ErrorRecord{
			DocumentID: doc.ID,
			Source:     doc.URI,
			Error:      err.Error(),
		}}, nil
	}

	chunks := p.comp.Chunker.Split(doc.Text)
	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))
	if len(chunks) == 0 {
		return fail("document has no text")
	}

	embedStart := time.Now()
	vectors, err := p.comp.Embeddings.EmbedChunks(ctx, chunks)
	p.metrics.ObserveStage("embed", embedStart)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return types.ExtractionOutcome{}, &PipelineError{
			DocumentID: doc.ID,
			Op:         "embed",
			BaseErr:    err,
		}
	}

	condensed, err := p.retriever.RetrieveText(ctx, p.settings.RetrievalQuery, chunks, vectors)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return types.ExtractionOutcome{}, &PipelineError{DocumentID: doc.ID, Op: "retrieve", BaseErr: err}
		}
		return fail(fmt.Sprintf("retrieve: %v", err))
	}

	llmStart := time.Now()
	fields, err := p.comp.Extractor.Extract(ctx, condensed, jobDescription)
	p.metrics.ObserveStage("llm_extract", llmStart)
	if err != nil {
		return fail(strings.TrimPrefix(err.Error(), ErrExtractionFailed.Error()+": "))
	}

	candidate := types.NewCandidateRecord(doc, *fields)
	span.SetAttributes(
		attribute.Int("candidate.preliminary_score", *candidate.PreliminaryScore),
		attribute.String("candidate.name", tracing.SafeAttributeValue("candidate.name", string(fields.Name), tracing.DefaultMaxLength)),
	)
	span.SetStatus(codes.Ok, "")
	return types.ExtractionOutcome{Candidate: candidate}, nil
}

// ExtractAll 并发抽取全部文档，候选人按文档顺序返回。
// 任一文档遇到 ErrModelUnavailable 时取消其余抽取并返回该错误。
func (p *ResumePipeline) ExtractAll(ctx context.Context, docs []types.Document, jobDescription string) ([]*types.CandidateRecord, []*types.ErrorRecord, error) {
	ctx, span := tracer.Start(ctx, "ResumePipeline.ExtractAll", trace.WithAttributes(
		attribute.Int("document.count", len(docs)),
	))
	defer span.End()

	outcomes := make([]types.ExtractionOutcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.ExtractConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			outcome, err := p.Extract(gctx, doc, jobDescription)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, nil, err
	}

	candidates := make([]*types.CandidateRecord, 0, len(docs))
	var failures []*types.ErrorRecord
	for _, o := range outcomes {
		p.metrics.ObserveDocument(o.OK())
		if o.OK() {
			candidates = append(candidates, o.Candidate)
		} else if o.Failure != nil {
			failures = append(failures, o.Failure)
		}
	}
	span.SetAttributes(
		attribute.Int("candidate.count", len(candidates)),
		attribute.Int("failure.count", len(failures)),
	)
	p.logger.Info().
		Int("documents", len(docs)).
		Int("candidates", len(candidates)).
		Int("failures", len(failures)).
		Msg("简历抽取完成")
	return candidates, failures, nil
}

// Rank 评估并排序候选人，下标 0 为最匹配者
func (p *ResumePipeline) Rank(ctx context.Context, candidates []*types.CandidateRecord, jobDescription string) []*types.CandidateRecord {
	ctx, span := tracer.Start(ctx, "ResumePipeline.Rank", trace.WithAttributes(
		attribute.Int("candidate.count", len(candidates)),
	))
	defer span.End()
	return p.ranker.Rank(ctx, candidates, jobDescription)
}

// Run 抽取全部文档后排序，返回一次完整运行的结果
func (p *ResumePipeline) Run(ctx context.Context, docs []types.Document, jobDescription string) (*types.RankingRun, error) {
	if strings.TrimSpace(jobDescription) == "" {
		return nil, NewInvalidInputError("run", "job description is empty")
	}

	run := &types.RankingRun{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	ctx, span := tracer.Start(ctx, "ResumePipeline.Run", trace.WithAttributes(
		attribute.String("run.id", run.RunID),
		attribute.Int("document.count", len(docs)),
	))
	defer span.End()

	candidates, failures, err := p.ExtractAll(ctx, docs, jobDescription)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	run.Ranked = p.Rank(ctx, candidates, jobDescription)
	run.Failures = failures
	if run.Failures == nil {
		run.Failures = []*types.ErrorRecord{}
	}
	run.FinishedAt = time.Now().UTC()

	p.logger.Info().
		Str("run_id", run.RunID).
		Int("ranked", len(run.Ranked)).
		Int("failures", len(run.Failures)).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("排序运行完成")
	return run, nil
}

// Publish 把排序结果发布到消息队列；未配置发布端时返回错误
func (p *ResumePipeline) Publish(ctx context.Context, run *types.RankingRun) error {
	if p.publisher == nil {
		return errors.New("no shortlist publisher configured")
	}
	ctx, span := tracer.Start(ctx, "ResumePipeline.Publish", trace.WithAttributes(
		attribute.String("run.id", run.RunID),
	))
	defer span.End()

	if err := p.publisher.EnsureExchange(p.exchange, constants.ShortlistExchangeType, true); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("declare shortlist exchange %s: %w", p.exchange, err)
	}
	if err := p.publisher.PublishJSON(ctx, p.exchange, p.routingKey, storage.NewShortlistMessage(run), true); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("publish shortlist %s: %w", run.RunID, err)
	}
	p.logger.Info().Str("run_id", run.RunID).Str("exchange", p.exchange).Msg("排序结果已发布")
	return nil
}
