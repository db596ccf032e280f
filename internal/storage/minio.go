package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"resume-ranker/internal/config"
	"resume-ranker/internal/logger"
	"resume-ranker/internal/tracing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var minioTracer = otel.Tracer("resume-ranker/storage/minio")

// ObjectInfo 存储桶中的一个对象
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStorage 简历读取所需的对象存储能力
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DownloadFile(ctx context.Context, objectName string) ([]byte, error)
	Bucket() string
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 从存储桶读取简历文件
type MinIO struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewMinIO 创建MinIO客户端并检查存储桶存在
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("MinIO endpoint 和 bucketName 不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		bucket: cfg.BucketName,
		logger: logger.Component("minio"),
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", cfg.BucketName, err)
	}
	if !exists {
		return nil, fmt.Errorf("存储桶 %s 不存在", cfg.BucketName)
	}

	m.logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("MinIO客户端初始化成功")
	return m, nil
}

// Bucket 返回存储桶名
func (m *MinIO) Bucket() string {
	return m.bucket
}

// ListObjects 递归列出前缀下的全部对象，按 key 字典序返回
func (m *MinIO) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.ListObjects")
	defer span.End()
	span.SetAttributes(
		attribute.String("minio.bucket", m.bucket),
		attribute.String("minio.prefix", prefix),
	)

	var out []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			tracing.RecordError(span, obj.Err, tracing.ErrorTypeObjectStore)
			return nil, fmt.Errorf("列出 %s/%s 失败: %w", m.bucket, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, ObjectInfo{
			Key:         obj.Key,
			Size:        obj.Size,
			ContentType: ContentTypeFor(path.Ext(obj.Key)),
		})
	}
	span.SetAttributes(attribute.Int("minio.object_count", len(out)))
	return out, nil
}

// DownloadFile 下载对象内容
func (m *MinIO) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.DownloadFile")
	defer span.End()
	span.SetAttributes(attribute.String("minio.object", objectName))

	obj, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectName, err)
	}
	m.logger.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("对象下载完成")
	return data, nil
}

// ContentTypeFor 按扩展名推断内容类型
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
