package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"resume-ranker/internal/config"
	"resume-ranker/internal/constants"
	"resume-ranker/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound key 不存在
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-ranker/storage/redis")

// 按 key 前缀的 span 采样率，redisotel 已经为每条命令生成 span
var redisKeySamplingRates = map[string]float64{
	constants.AppPrefix + ":" + constants.EmbeddingModulePrefix + ":": 0.05,
}

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	rate := 0.05
	for prefix, r := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			rate = r
			break
		}
	}
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64() < rate
}

// Redis 封装 go-redis 客户端，作为向量缓存的后端
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建 Redis 连接并挂载 OpenTelemetry 钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(redisOptions(cfg))
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	r := &Redis{Client: client, config: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return r, nil
}

func redisOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// EmbeddingKey 向量缓存键: app:embedding:vector:{model}:{textHash}
func EmbeddingKey(model, textHash string) string {
	return fmt.Sprintf(constants.KeyEmbeddingVector, model, textHash)
}

// Get 获取键的值，key 不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Get", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "GET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
			attribute.String("db.redis.database", strconv.Itoa(r.config.DB)),
		)
	}

	val, err := r.Client.Get(ctx, key).Result()
	if span != nil {
		switch {
		case errors.Is(err, redis.Nil):
			span.SetStatus(codes.Ok, "key not found")
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		case err != nil:
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		default:
			span.SetAttributes(
				attribute.Bool("db.redis.key_exists", true),
				attribute.Int("db.redis.value_length", len(val)),
			)
			span.SetStatus(codes.Ok, "")
		}
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set 设置键的值，expiration 为 0 表示不过期
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Set", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "SET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
			attribute.Int("db.redis.value_length", len(value)),
		)
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	err := r.Client.Set(ctx, key, value, expiration).Err()
	if span != nil {
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

// GetVector 读取 JSON 编码的向量，不存在时返回 ErrNotFound
func (r *Redis) GetVector(ctx context.Context, key string) ([]float64, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return vec, nil
}

// SetVector 以 JSON 数组写入向量
func (r *Redis) SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}
	return r.Set(ctx, key, string(data), ttl)
}
