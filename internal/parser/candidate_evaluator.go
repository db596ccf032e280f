package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/tracing"
	"resume-ranker/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const evaluatorSystemPrompt = "You are an expert technical recruiter. Evaluate this candidate against the job description."

const defaultEvaluationPrompt = `Job Description:
%s

Candidate Profile:
%s
Provide your assessment in JSON format:
{
    "score": <0-100>,
    "match_percentage": <0-100>,
    "summary": "2-3 sentence overview of candidate fit",
    "strengths": ["strength1", "strength2", "strength3"],
    "gaps": ["gap1", "gap2"],
    "recommendation": "strong_fit | good_fit | moderate_fit | weak_fit"
}

Be objective and thorough. Score based on:
- Skills match (40%%)
- Experience relevance (30%%)
- Education fit (15%%)
- Achievements (15%%)
`

// evaluationSchema 模型输出必须满足的结构
const evaluationSchema = `{
  "type": "object",
  "required": ["score", "match_percentage", "summary", "strengths", "gaps", "recommendation"],
  "properties": {
    "score":            {"type": "number", "minimum": 0, "maximum": 100},
    "match_percentage": {"type": "number", "minimum": 0, "maximum": 100},
    "summary":          {"type": "string"},
    "strengths":        {"type": "array", "items": {"type": "string"}},
    "gaps":             {"type": "array", "items": {"type": "string"}},
    "recommendation":   {"type": "string", "enum": ["strong_fit", "good_fit", "moderate_fit", "weak_fit"]}
  }
}`

var evaluationSchemaLoader = gojsonschema.NewStringLoader(evaluationSchema)

// FallbackReason 评估降级的原因分类
type FallbackReason string

const (
	FallbackGeneration FallbackReason = "generation"
	FallbackParse      FallbackReason = "parse"
	FallbackSchema     FallbackReason = "schema"
	FallbackTimeout    FallbackReason = "timeout"
	FallbackPanic      FallbackReason = "panic"
)

// CandidateEvaluator 按岗位描述给候选人打分。任何失败都降级为确定性的兜底结果，从不返回错误。
type CandidateEvaluator struct {
	llm            model.ToolCallingChatModel
	promptTemplate string
	timeout        time.Duration
	temperature    *float32
	quoteRepair    bool
	onFallback     func(reason FallbackReason)
	logger         zerolog.Logger
}

// CandidateEvaluatorOption 评估器选项
type CandidateEvaluatorOption func(*CandidateEvaluator)

// WithEvaluationPrompt 自定义提示词模板，两个 %s 依次为岗位描述和候选人摘要
func WithEvaluationPrompt(template string) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.promptTemplate = template
	}
}

// WithEvaluationTimeout 单次评估的超时，0 表示不额外限制
func WithEvaluationTimeout(d time.Duration) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.timeout = d
	}
}

// WithEvaluatorTemperature 评估时的采样温度
func WithEvaluatorTemperature(t float32) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.temperature = &t
	}
}

// WithEvaluatorQuoteRepair 解析失败时尝试修复未转义的双引号
func WithEvaluatorQuoteRepair(enabled bool) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.quoteRepair = enabled
	}
}

// WithFallbackHook 每次降级时回调，用于计数
func WithFallbackHook(fn func(reason FallbackReason)) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.onFallback = fn
	}
}

// WithEvaluatorLogger 设置日志实例
func WithEvaluatorLogger(l zerolog.Logger) CandidateEvaluatorOption {
	return func(e *CandidateEvaluator) {
		e.logger = l
	}
}

// NewCandidateEvaluator 创建评估器
func NewCandidateEvaluator(llm model.ToolCallingChatModel, opts ...CandidateEvaluatorOption) *CandidateEvaluator {
	e := &CandidateEvaluator{
		llm:            llm,
		promptTemplate: defaultEvaluationPrompt,
		logger:         logger.Component("evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate 评估单个候选人，返回值总是完整填充
func (e *CandidateEvaluator) Evaluate(ctx context.Context, candidate *types.CandidateRecord, jobDescription string) (result types.EvaluationFields) {
	var prelim *int
	if candidate != nil {
		prelim = candidate.PreliminaryScore
	}

	ctx, span := tracer.Start(ctx, "CandidateEvaluator.Evaluate")
	defer func() {
		span.SetAttributes(
			attribute.Int("evaluation.score", result.Score),
			attribute.String("evaluation.recommendation", string(result.Recommendation)),
		)
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			result = e.fallback(span, candidate, prelim, FallbackPanic, fmt.Sprint(r))
		}
	}()

	if candidate == nil || e.llm == nil {
		return e.fallback(span, candidate, prelim, FallbackGeneration, "missing candidate or model")
	}
	span.SetAttributes(attribute.String("candidate.document_id", candidate.DocumentID))

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(e.promptTemplate, jobDescription, CandidateSummary(candidate.Extracted))
	span.SetAttributes(attribute.String("llm.prompt", tracing.SafePrompt(prompt)))
	messages := []*schema.Message{
		schema.SystemMessage(evaluatorSystemPrompt),
		schema.UserMessage(prompt),
	}
	var opts []model.Option
	if e.temperature != nil {
		opts = append(opts, model.WithTemperature(*e.temperature))
	}

	resp, err := e.llm.Generate(ctx, messages, opts...)
	if err != nil {
		reason := FallbackGeneration
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = FallbackTimeout
		}
		return e.fallback(span, candidate, prelim, reason, err.Error())
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return e.fallback(span, candidate, prelim, FallbackGeneration, "empty model response")
	}
	span.SetAttributes(attribute.String("llm.response", tracing.SafePrompt(resp.Content)))

	parsed := RecoverJSON(resp.Content, WithQuoteRepair(e.quoteRepair))
	if !parsed.OK() {
		return e.fallback(span, candidate, prelim, FallbackParse, parsed.Reason)
	}

	fields, err := decodeEvaluation(parsed.Value)
	if err != nil {
		return e.fallback(span, candidate, prelim, FallbackSchema, err.Error())
	}
	span.SetStatus(codes.Ok, "")
	return fields
}

func (e *CandidateEvaluator) fallback(span trace.Span, candidate *types.CandidateRecord, prelim *int, reason FallbackReason, detail string) types.EvaluationFields {
	span.SetAttributes(attribute.String("evaluation.fallback", string(reason)))
	span.SetStatus(codes.Error, tracing.TruncateString(detail, tracing.DefaultMaxLength))

	ev := e.logger.Warn().Str("reason", string(reason)).Str("detail", detail)
	if candidate != nil {
		ev = ev.Str("document_id", candidate.DocumentID)
	}
	ev.Msg("候选人评估降级为兜底结果")

	if e.onFallback != nil {
		e.onFallback(reason)
	}
	return types.FallbackEvaluation(prelim)
}

type rawEvaluation struct {
	Score           float64  `json:"score"`
	MatchPercentage float64  `json:"match_percentage"`
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Gaps            []string `json:"gaps"`
	Recommendation  string   `json:"recommendation"`
}

// decodeEvaluation 规范化 recommendation 后做 JSON Schema 校验，分数四舍五入为整数
func decodeEvaluation(raw json.RawMessage) (types.EvaluationFields, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.EvaluationFields{}, err
	}
	if rec, ok := doc["recommendation"].(string); ok {
		doc["recommendation"] = normalizeRecommendation(rec)
	}

	res, err := gojsonschema.Validate(evaluationSchemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return types.EvaluationFields{}, fmt.Errorf("schema validation: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
		return types.EvaluationFields{}, fmt.Errorf("evaluation does not match schema: %s", strings.Join(msgs, "; "))
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return types.EvaluationFields{}, err
	}
	var r rawEvaluation
	if err := json.Unmarshal(normalized, &r); err != nil {
		return types.EvaluationFields{}, err
	}

	strengths := r.Strengths
	if strengths == nil {
		strengths = []string{}
	}
	gaps := r.Gaps
	if gaps == nil {
		gaps = []string{}
	}
	return types.EvaluationFields{
		Score:           int(math.Round(r.Score)),
		MatchPercentage: int(math.Round(r.MatchPercentage)),
		Summary:         r.Summary,
		Strengths:       strengths,
		Gaps:            gaps,
		Recommendation:  types.Recommendation(r.Recommendation),
	}, nil
}

func normalizeRecommendation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// CandidateSummary 生成给评估模型看的候选人摘要
func CandidateSummary(f types.ExtractedFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", orDefault(string(f.Name), "Unknown"))
	fmt.Fprintf(&b, "Skills: %s\n", strings.Join(f.Skills, ", "))
	fmt.Fprintf(&b, "Experience: %s years\n", orDefault(string(f.ExperienceYears), "Unknown"))
	fmt.Fprintf(&b, "Education: %s\n", orDefault(string(f.Education), "Not specified"))
	fmt.Fprintf(&b, "Relevant Experience: %s\n", orDefault(string(f.RelevantExperience), "Not specified"))
	fmt.Fprintf(&b, "Key Achievements: %s\n", strings.Join(f.KeyAchievements, ", "))
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
