package types

import (
	"errors"
	"fmt"
)

// 流水线错误分类
var (
	// ErrModelUnavailable 向量模型不可用，整次运行失败，没有兜底
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrExtractionFailed 单个文档抽取失败，该文档降级为 ErrorRecord
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrInvalidInput 调用参数不合法
	ErrInvalidInput = errors.New("invalid input")
)

// PipelineError 带文档上下文的错误
type PipelineError struct {
	DocumentID string
	Op         string
	BaseErr    error
	Detail     string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (op:%s, document:%s): %s", e.BaseErr, e.Op, e.DocumentID, e.Detail)
	}
	return fmt.Sprintf("%s (op:%s, document:%s)", e.BaseErr, e.Op, e.DocumentID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// NewExtractionError 构造抽取失败错误
func NewExtractionError(documentID, detail string) error {
	return &PipelineError{
		DocumentID: documentID,
		Op:         "extract",
		BaseErr:    ErrExtractionFailed,
		Detail:     detail,
	}
}

// NewModelUnavailableError 构造向量模型不可用错误
func NewModelUnavailableError(documentID, detail string) error {
	return &PipelineError{
		DocumentID: documentID,
		Op:         "embed",
		BaseErr:    ErrModelUnavailable,
		Detail:     detail,
	}
}
