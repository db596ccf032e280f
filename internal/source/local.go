package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/types"
)

// LocalSource 读取单个文件或目录（递归）下的简历
type LocalSource struct {
	root string
	pdf  PDFDecoder
}

// NewLocalSource root 可以是文件或目录
func NewLocalSource(root string, pdf PDFDecoder) *LocalSource {
	return &LocalSource{root: root, pdf: pdf}
}

// Load 按路径字典序返回文档
func (s *LocalSource) Load(ctx context.Context) ([]types.Document, []*types.ErrorRecord, error) {
	paths, err := s.collect()
	if err != nil {
		return nil, nil, err
	}

	docs := make([]types.Document, 0, len(paths))
	var failures []*types.ErrorRecord
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			failures = append(failures, failure(p, err))
			continue
		}
		doc, err := decode(ctx, s.pdf, p, data)
		if err != nil {
			logger.Warn().Err(err).Str("file", p).Msg("跳过无法解码的简历")
			failures = append(failures, failure(p, err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failures, nil
}

func (s *LocalSource) collect() ([]string, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("读取输入路径 %s 失败: %w", s.root, err)
	}
	if !info.IsDir() {
		return []string{s.root}, nil
	}

	var paths []string
	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && Supported(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历目录 %s 失败: %w", s.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
