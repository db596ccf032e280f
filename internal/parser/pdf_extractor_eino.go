package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/types"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

const defaultPDFParseTimeout = 30 * time.Second

// EinoPDFTextExtractor 使用 Eino PDF Parser 把简历 PDF 解码为纯文本
type EinoPDFTextExtractor struct {
	parser  einoParser.Parser
	timeout time.Duration
	logger  zerolog.Logger
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFTextExtractor)

// WithEinoLogger 配置日志
func WithEinoLogger(l zerolog.Logger) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.logger = l
	}
}

// WithPDFParseTimeout 单个文件的解析超时，<=0 表示不额外限制
func WithPDFParseTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.timeout = d
	}
}

// WithDocumentParser 替换底层解析器
func WithDocumentParser(p einoParser.Parser) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.parser = p
	}
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器
// 不按页面分割，整个文档作为一段连续文本
func NewEinoPDFTextExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFTextExtractor, error) {
	extractor := &EinoPDFTextExtractor{
		timeout: defaultPDFParseTimeout,
		logger:  logger.Component("pdf_extractor"),
	}
	for _, option := range options {
		option(extractor)
	}
	if extractor.parser == nil {
		p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
		}
		extractor.parser = p
	}
	return extractor, nil
}

// ExtractDocumentFromFile 读取 PDF 文件并返回带确定性ID的文档
func (e *EinoPDFTextExtractor) ExtractDocumentFromFile(ctx context.Context, filePath string) (types.Document, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return types.Document{}, fmt.Errorf("failed to open PDF file %s: %w", filePath, err)
	}
	defer file.Close()

	if info, statErr := file.Stat(); statErr == nil {
		e.logger.Debug().Str("file", filePath).Int64("bytes", info.Size()).Msg("开始解析PDF")
	}
	return e.ExtractDocument(ctx, file, filePath)
}

// ExtractDocumentFromBytes 从内存中的 PDF 内容解析文档
func (e *EinoPDFTextExtractor) ExtractDocumentFromBytes(ctx context.Context, data []byte, uri string) (types.Document, error) {
	return e.ExtractDocument(ctx, bytes.NewReader(data), uri)
}

// ExtractDocument 从 reader 解析 PDF，uri 同时作为文档ID的来源
func (e *EinoPDFTextExtractor) ExtractDocument(ctx context.Context, reader io.Reader, uri string) (types.Document, error) {
	text, meta, err := e.ExtractTextFromReader(ctx, reader, uri)
	if err != nil {
		return types.Document{}, err
	}
	return types.NewDocument(uri, text, meta), nil
}

// ExtractTextFromReader 返回全文和解析器元数据；多个文档时按顺序以空行拼接
func (e *EinoPDFTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string) (string, map[string]any, error) {
	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{"source_uri": uri}),
	)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Dur("elapsed", time.Since(start)).Msg("PDF解析失败")
		return "", nil, fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}
	if len(docs) == 0 {
		return "", nil, fmt.Errorf("eino PDF parser returned no documents for URI %s", uri)
	}

	parts := make([]string, 0, len(docs))
	meta := make(map[string]any)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
		for k, v := range doc.MetaData {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}
	}
	text := strings.Join(parts, "\n\n")
	meta["content_type"] = "application/pdf"
	meta["document_count"] = len(docs)
	meta["text_length"] = len(text)

	e.logger.Debug().
		Str("uri", uri).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("PDF解析完成")
	return text, meta, nil
}
