package parser

import (
	"context"
	"fmt"
	"strings"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/tracing"
	"resume-ranker/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resume-ranker/parser")

const extractorSystemPrompt = "You are an expert HR Assistant analyzing resumes."

const defaultExtractionPrompt = `%s
Extract the candidate's information from the resume text below.
Provide a brief assessment of how well they match the job requirements if provided.

Return ONLY valid JSON in this exact format:
{
    "name": "Full Name",
    "email": "email@example.com",
    "phone": "+1234567890",
    "skills": ["skill1", "skill2", "skill3"],
    "experience_years": "5",
    "key_achievements": ["achievement1", "achievement2"],
    "education": "Highest degree and institution",
    "relevant_experience": "Brief summary of most relevant experience"
}

Resume text:
%s
`

// ResumeExtractor 调用生成模型，把检索出的简历片段抽取为结构化字段
type ResumeExtractor struct {
	llm            model.ToolCallingChatModel
	promptTemplate string
	temperature    *float32
	quoteRepair    bool
	logger         zerolog.Logger
}

// ResumeExtractorOption 抽取器选项
type ResumeExtractorOption func(*ResumeExtractor)

// WithExtractionPrompt 自定义提示词模板，两个 %s 依次为岗位上下文和简历文本
func WithExtractionPrompt(template string) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.promptTemplate = template
	}
}

// WithExtractorTemperature 设置抽取时的采样温度
func WithExtractorTemperature(t float32) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.temperature = &t
	}
}

// WithExtractorQuoteRepair 解析失败时尝试修复字符串中未转义的双引号
func WithExtractorQuoteRepair(enabled bool) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.quoteRepair = enabled
	}
}

// WithExtractorLogger 设置日志实例
func WithExtractorLogger(l zerolog.Logger) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.logger = l
	}
}

// NewResumeExtractor 创建抽取器
func NewResumeExtractor(llm model.ToolCallingChatModel, opts ...ResumeExtractorOption) *ResumeExtractor {
	e := &ResumeExtractor{
		llm:            llm,
		promptTemplate: defaultExtractionPrompt,
		logger:         logger.Component("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 抽取候选人字段。模型调用失败、空响应或无法恢复出 JSON 对象时
// 返回包装了 types.ErrExtractionFailed 的错误。
func (e *ResumeExtractor) Extract(ctx context.Context, condensedText, jobDescription string) (fields *types.ExtractedFields, err error) {
	ctx, span := tracer.Start(ctx, "ResumeExtractor.Extract", trace.WithAttributes(
		attribute.String("resume.content", tracing.SafeResumeContent(condensedText)),
	))
	defer func() {
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if e.llm == nil {
		return nil, fmt.Errorf("%w: chat model is not initialized", types.ErrExtractionFailed)
	}

	prompt := e.buildPrompt(condensedText, jobDescription)
	span.SetAttributes(attribute.String("llm.prompt", tracing.SafePrompt(prompt)))
	messages := []*schema.Message{
		schema.SystemMessage(extractorSystemPrompt),
		schema.UserMessage(prompt),
	}

	var opts []model.Option
	if e.temperature != nil {
		opts = append(opts, model.WithTemperature(*e.temperature))
	}

	resp, err := e.llm.Generate(ctx, messages, opts...)
	if err != nil {
		e.logger.Warn().Err(err).Msg("抽取调用失败")
		return nil, fmt.Errorf("%w: generation failed: %v", types.ErrExtractionFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: empty model response", types.ErrExtractionFailed)
	}
	span.SetAttributes(attribute.String("llm.response", tracing.SafePrompt(resp.Content)))

	result := RecoverJSON(resp.Content, WithQuoteRepair(e.quoteRepair))
	span.SetAttributes(attribute.String("json.stage", string(result.Stage)))
	if !result.OK() {
		e.logger.Warn().
			Str("stage", string(result.Stage)).
			Str("reason", result.Reason).
			Int("response_len", len(resp.Content)).
			Msg("抽取结果无法解析")
		return nil, fmt.Errorf("%w: %s", types.ErrExtractionFailed, result.Reason)
	}

	fields = &types.ExtractedFields{}
	if err := result.Decode(fields); err != nil {
		return nil, fmt.Errorf("%w: decode fields: %v", types.ErrExtractionFailed, err)
	}

	e.logger.Debug().
		Str("stage", string(result.Stage)).
		Int("skills", len(fields.Skills)).
		Msg("抽取完成")
	return fields, nil
}

func (e *ResumeExtractor) buildPrompt(text, jobDescription string) string {
	jdContext := ""
	if strings.TrimSpace(jobDescription) != "" {
		jdContext = "\nJob Description Context:\n" + jobDescription + "\n"
	}
	return fmt.Sprintf(e.promptTemplate, jdContext, text)
}
