package tracing

import (
	"errors"

	"resume-ranker/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 定义错误类型，便于分类和过滤
type ErrorType string

const (
	// ErrorTypeLLM 生成模型调用错误
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeEmbedding 向量模型错误
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeExtraction 结构化抽取失败
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeRedis Redis错误
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeRabbitMQ RabbitMQ错误
	ErrorTypeRabbitMQ ErrorType = "rabbitmq"
	// ErrorTypeObjectStore 对象存储错误
	ErrorTypeObjectStore ErrorType = "object_store"
	// ErrorTypeValidation 验证错误
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout 超时错误
	ErrorTypeTimeout ErrorType = "timeout"
)

// RecordError 记录错误。err 链上有 *types.PipelineError 时同时记录文档和阶段
func RecordError(span trace.Span, err error, errorType ErrorType) {
	var perr *types.PipelineError
	if errors.As(err, &perr) {
		RecordErrorWithInfo(span, err, errorType,
			attribute.String("document.id", perr.DocumentID),
			attribute.String("pipeline.op", perr.Op),
		)
		return
	}
	RecordErrorWithInfo(span, err, errorType)
}

// RecordErrorWithInfo 记录错误并添加额外属性
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	msg := TruncateString(err.Error(), DefaultMaxLength)
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", msg),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, msg)
}

// ConfirmFailure 发布确认失败的类型
type ConfirmFailure string

const (
	ConfirmNack    ConfirmFailure = "nack"
	ConfirmTimeout ConfirmFailure = "timeout"
)

// RecordConfirmFailure 记录消息没有得到 broker 确认
func RecordConfirmFailure(span trace.Span, messageID string, kind ConfirmFailure, detail string) {
	if span == nil {
		return
	}
	msg := "broker did not confirm message (" + string(kind) + ")"
	if detail != "" {
		msg += ": " + detail
	}
	span.SetAttributes(
		attribute.String("error.type", string(ErrorTypeRabbitMQ)),
		attribute.String("error.message", msg),
		attribute.String("messaging.message_id", messageID),
		attribute.String("messaging.error_type", string(kind)),
		attribute.Bool("messaging.rabbitmq.confirmed", false),
	)
	span.SetStatus(codes.Error, msg)
}
