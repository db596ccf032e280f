package storage

import (
	"context"
	"errors"

	"resume-ranker/internal/config"
	"resume-ranker/internal/logger"
)

// Storage 存储管理器，聚合可选的外部依赖；未配置的组件为 nil
type Storage struct {
	// 对象存储，简历来源
	MinIO *MinIO

	// 消息队列，排序结果发布
	RabbitMQ *RabbitMQ

	// 键值存储，向量缓存
	Redis *Redis
}

// NewStorage 按配置初始化各组件。单个组件失败只记录警告，
// 返回的 error 汇总了全部失败原因，调用方自行决定是否致命。
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("配置不能为空")
	}

	s := &Storage{}
	var initErrs []error

	if cfg.MinIO.Endpoint != "" {
		m, err := NewMinIO(ctx, &cfg.MinIO)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败")
			initErrs = append(initErrs, err)
		} else {
			s.MinIO = m
		}
	}

	if cfg.RabbitMQ.URL != "" {
		mq, err := NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrs = append(initErrs, err)
		} else {
			s.RabbitMQ = mq
		}
	}

	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		r, err := NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("初始化Redis失败")
			initErrs = append(initErrs, err)
		} else {
			s.Redis = r
		}
	} else {
		logger.Debug().Msg("Redis未启用, 向量缓存关闭")
	}

	return s, errors.Join(initErrs...)
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s == nil {
		return
	}
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
