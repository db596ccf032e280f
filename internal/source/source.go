// Package source 把本地目录或对象存储中的简历文件解码为文档。
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"resume-ranker/internal/types"
)

// PDFDecoder 把 PDF 内容解码为文档
type PDFDecoder interface {
	ExtractDocument(ctx context.Context, reader io.Reader, uri string) (types.Document, error)
}

// Source 文档来源。无法解码的单个文件成为 ErrorRecord，不影响其它文件。
type Source interface {
	Load(ctx context.Context) ([]types.Document, []*types.ErrorRecord, error)
}

// 支持的扩展名
var supportedExt = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// Supported 判断文件名是否为可处理的简历格式
func Supported(name string) bool {
	return supportedExt[strings.ToLower(filepath.Ext(name))]
}

// decode PDF 走解码器，文本文件原样通过
func decode(ctx context.Context, pdf PDFDecoder, uri string, data []byte) (types.Document, error) {
	ext := strings.ToLower(filepath.Ext(uri))
	if ext == ".pdf" {
		if pdf == nil {
			return types.Document{}, fmt.Errorf("no PDF decoder configured for %s", uri)
		}
		doc, err := pdf.ExtractDocument(ctx, bytes.NewReader(data), uri)
		if err != nil {
			return types.Document{}, err
		}
		if strings.TrimSpace(doc.Text) == "" {
			return types.Document{}, fmt.Errorf("no text extracted from %s", uri)
		}
		return doc, nil
	}

	if !utf8.Valid(data) {
		return types.Document{}, fmt.Errorf("%s is not valid UTF-8 text", uri)
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")
	if strings.TrimSpace(text) == "" {
		return types.Document{}, fmt.Errorf("%s is empty", uri)
	}
	return types.NewDocument(uri, text, map[string]any{"content_type": "text/plain"}), nil
}

func failure(uri string, err error) *types.ErrorRecord {
	return &types.ErrorRecord{
		DocumentID: types.NewDocumentID(uri),
		Source:     uri,
		Error:      err.Error(),
	}
}
