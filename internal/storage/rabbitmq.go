package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"resume-ranker/internal/config"
	"resume-ranker/internal/logger"
	"resume-ranker/internal/tracing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultPublishTimeout = 10 * time.Second

var rabbitTracer = otel.Tracer("resume-ranker/storage/rabbitmq")

// Publisher 声明交换机并发布 JSON 消息
type Publisher interface {
	EnsureExchange(exchangeName, exchangeType string, durable bool) error
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error
}

// 确保RabbitMQ实现了Publisher接口
var _ Publisher = (*RabbitMQ)(nil)

// RabbitMQ 排序结果发布端。通道开启 publisher confirm，发布会等待 broker 确认。
type RabbitMQ struct {
	conn           *amqp.Connection
	channelPool    sync.Pool
	mu             sync.Mutex
	exchangeMap    map[string]bool
	publishTimeout time.Duration
	cfg            *config.RabbitMQConfig
	logger         zerolog.Logger
}

// NewRabbitMQ 连接 RabbitMQ 并验证可以创建通道
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	timeout := defaultPublishTimeout
	if cfg.PublishTimeoutSecs > 0 {
		timeout = time.Duration(cfg.PublishTimeoutSecs) * time.Second
	}
	mq := &RabbitMQ{
		conn:           conn,
		exchangeMap:    make(map[string]bool),
		publishTimeout: timeout,
		cfg:            cfg,
		logger:         logger.Component("rabbitmq"),
	}

	testCh, err := mq.getChannel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	mq.putChannel(testCh)

	mq.logger.Info().Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

// getChannel 从池中取通道，池空或通道已关闭时新建
func (r *RabbitMQ) getChannel() (*amqp.Channel, error) {
	for {
		v := r.channelPool.Get()
		if v == nil {
			break
		}
		if ch := v.(*amqp.Channel); !ch.IsClosed() {
			return ch, nil
		}
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建RabbitMQ通道失败: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("开启publisher confirm失败: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在，已声明过的直接返回
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	if exchangeName == "amq.default" || exchangeName == "default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", exchangeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchangeMap[exchangeName] {
		return nil
	}

	ch, err := r.getChannel()
	if err != nil {
		return err
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(
		exchangeName,
		exchangeType,
		durable,
		false, // 自动删除
		false, // 内部专用
		false, // 非阻塞
		nil,
	); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	r.logger.Debug().Str("exchange", exchangeName).Str("type", exchangeType).Msg("已确保exchange存在")
	return nil
}

// PublishMessage 发布消息并等待 broker 确认
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	messageID := uuid.NewString()
	ctx, span := rabbitTracer.Start(ctx, "RabbitMQ.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", exchangeName),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
		attribute.String("messaging.message_id", messageID),
		attribute.Int("messaging.message.body.size", len(message)),
	)

	ch, err := r.getChannel()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return err
	}
	defer r.putChannel(ch)

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		exchangeName,
		routingKey,
		false, // 强制
		false, // 立即
		amqp.Publishing{
			MessageId:    messageID,
			DeliveryMode: deliveryMode,
			ContentType:  "application/json",
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布消息失败: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		tracing.RecordConfirmFailure(span, messageID, tracing.ConfirmTimeout, r.publishTimeout.String())
		return fmt.Errorf("等待broker确认失败: %w", err)
	}
	if !acked {
		tracing.RecordConfirmFailure(span, messageID, tracing.ConfirmNack, "")
		return fmt.Errorf("消息 %s 被broker拒绝", messageID)
	}

	span.SetAttributes(attribute.Bool("messaging.rabbitmq.confirmed", true))
	span.SetStatus(codes.Ok, "")
	return nil
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.PublishMessage(ctx, exchangeName, routingKey, jsonData, persistent)
}
