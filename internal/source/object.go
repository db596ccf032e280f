package source

import (
	"context"
	"fmt"
	"sort"

	"resume-ranker/internal/logger"
	"resume-ranker/internal/storage"
	"resume-ranker/internal/types"
)

// ObjectSource 读取存储桶前缀下的简历
type ObjectSource struct {
	store  storage.ObjectStorage
	prefix string
	pdf    PDFDecoder
}

// NewObjectSource 创建对象存储来源
func NewObjectSource(store storage.ObjectStorage, prefix string, pdf PDFDecoder) *ObjectSource {
	return &ObjectSource{store: store, prefix: prefix, pdf: pdf}
}

// Load 按对象 key 字典序返回文档，文档 URI 为 s3://bucket/key
func (s *ObjectSource) Load(ctx context.Context) ([]types.Document, []*types.ErrorRecord, error) {
	objects, err := s.store.ListObjects(ctx, s.prefix)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	var docs []types.Document
	var failures []*types.ErrorRecord
	for _, obj := range objects {
		if !Supported(obj.Key) {
			continue
		}
		uri := fmt.Sprintf("s3://%s/%s", s.store.Bucket(), obj.Key)
		data, err := s.store.DownloadFile(ctx, obj.Key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			failures = append(failures, failure(uri, err))
			continue
		}
		doc, err := decode(ctx, s.pdf, uri, data)
		if err != nil {
			logger.Warn().Err(err).Str("object", obj.Key).Msg("跳过无法解码的简历")
			failures = append(failures, failure(uri, err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failures, nil
}
