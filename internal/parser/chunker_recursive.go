package parser

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"resume-ranker/internal/types"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// DefaultSeparators 按优先级: 段落、换行、空格；空串表示按字符硬切
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker 递归字符分块器
// 优先在段落边界切分，其次换行、空格，最后按字符硬切。长度按 rune 计算。
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// RecursiveChunkerOption 分块器配置选项
type RecursiveChunkerOption func(*RecursiveChunker)

// WithChunkSize 设置分块目标长度
func WithChunkSize(size int) RecursiveChunkerOption {
	return func(c *RecursiveChunker) {
		c.chunkSize = size
	}
}

// WithChunkOverlap 设置相邻分块的重叠长度
func WithChunkOverlap(overlap int) RecursiveChunkerOption {
	return func(c *RecursiveChunker) {
		c.chunkOverlap = overlap
	}
}

// WithSeparators 自定义分隔符优先级，末尾会自动补充硬切
func WithSeparators(separators ...string) RecursiveChunkerOption {
	return func(c *RecursiveChunker) {
		if len(separators) == 0 {
			return
		}
		seps := append([]string(nil), separators...)
		if seps[len(seps)-1] != "" {
			seps = append(seps, "")
		}
		c.separators = seps
	}
}

// NewRecursiveChunker 创建分块器
func NewRecursiveChunker(opts ...RecursiveChunkerOption) (*RecursiveChunker, error) {
	c := &RecursiveChunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.chunkSize)
	}
	if c.chunkOverlap < 0 || c.chunkOverlap >= c.chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.chunkSize, c.chunkOverlap)
	}
	return c, nil
}

// span 原文中的字节区间 [start, end)
type span struct {
	start, end int
}

// Split 将文本切分为有序的重叠分块；空输入返回空结果
func (c *RecursiveChunker) Split(text string) []types.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := c.splitSpan(text, span{0, len(text)}, c.separators)

	chunks := make([]types.Chunk, 0, len(spans))
	for _, sp := range spans {
		sp = trimSpan(text, sp)
		if sp.start >= sp.end {
			continue
		}
		chunks = append(chunks, types.Chunk{Text: text[sp.start:sp.end], SourceOffset: sp.start})
	}
	return chunks
}

func (c *RecursiveChunker) splitSpan(text string, sp span, separators []string) []span {
	segment := text[sp.start:sp.end]

	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(segment, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var final, good []span
	for _, piece := range splitKeepSeparator(text, sp, separator) {
		if c.length(text, piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(text, good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, c.splitSpan(text, piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(text, good)...)
	}
	return final
}

// merge 把连续的小片段合并为不超过 chunkSize 的分块，并保留 chunkOverlap 的尾部上下文
func (c *RecursiveChunker) merge(text string, pieces []span) []span {
	var out, current []span
	total := 0
	for _, piece := range pieces {
		n := c.length(text, piece)
		if total+n > c.chunkSize && len(current) > 0 {
			out = append(out, span{current[0].start, current[len(current)-1].end})
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= c.length(text, current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if len(current) > 0 {
		out = append(out, span{current[0].start, current[len(current)-1].end})
	}
	return out
}

func (c *RecursiveChunker) length(text string, sp span) int {
	return utf8.RuneCountInString(text[sp.start:sp.end])
}

// splitKeepSeparator 按分隔符切分，分隔符保留在后一个片段的开头，空片段被丢弃
func splitKeepSeparator(text string, sp span, separator string) []span {
	var out []span
	if separator == "" {
		for i := sp.start; i < sp.end; {
			_, size := utf8.DecodeRuneInString(text[i:sp.end])
			out = append(out, span{i, i + size})
			i += size
		}
		return out
	}

	segment := text[sp.start:sp.end]
	prev := 0
	for from := 0; from < len(segment); {
		idx := strings.Index(segment[from:], separator)
		if idx < 0 {
			break
		}
		cut := from + idx
		if cut > prev {
			out = append(out, span{sp.start + prev, sp.start + cut})
		}
		prev = cut
		from = cut + len(separator)
	}
	if prev < len(segment) {
		out = append(out, span{sp.start + prev, sp.end})
	}
	return out
}

func trimSpan(text string, sp span) span {
	for sp.start < sp.end {
		r, size := utf8.DecodeRuneInString(text[sp.start:sp.end])
		if !unicode.IsSpace(r) {
			break
		}
		sp.start += size
	}
	for sp.end > sp.start {
		r, size := utf8.DecodeLastRuneInString(text[sp.start:sp.end])
		if !unicode.IsSpace(r) {
			break
		}
		sp.end -= size
	}
	return sp
}

// Transform 实现 eino document.Transformer，每个分块输出一个 schema.Document
func (c *RecursiveChunker) Transform(ctx context.Context, src []*schema.Document, opts ...document.TransformerOption) ([]*schema.Document, error) {
	var out []*schema.Document
	for _, doc := range src {
		if doc == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, chunk := range c.Split(doc.Content) {
			meta := make(map[string]any, len(doc.MetaData)+2)
			for k, v := range doc.MetaData {
				meta[k] = v
			}
			meta["chunk_index"] = i
			meta["source_offset"] = chunk.SourceOffset
			out = append(out, &schema.Document{
				ID:       fmt.Sprintf("%s_%d", doc.ID, i),
				Content:  chunk.Text,
				MetaData: meta,
			})
		}
	}
	return out, nil
}

var _ document.Transformer = (*RecursiveChunker)(nil)
