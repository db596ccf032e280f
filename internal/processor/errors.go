package processor

import (
	"resume-ranker/internal/types"
)

// 流水线错误分类，与 types 包中的哨兵错误是同一个值，可直接用 errors.Is 比较
var (
	ErrModelUnavailable = types.ErrModelUnavailable
	ErrExtractionFailed = types.ErrExtractionFailed
	ErrInvalidInput     = types.ErrInvalidInput
)

// PipelineError 包含文档上下文的错误
type PipelineError = types.PipelineError

// NewInvalidInputError 构造参数错误
func NewInvalidInputError(op, detail string) error {
	return &PipelineError{
		Op:      op,
		BaseErr: ErrInvalidInput,
		Detail:  detail,
	}
}
