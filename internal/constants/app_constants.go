package constants

const (
	// ServiceName 默认服务名，用于 tracer 和日志
	ServiceName = "resume-ranker"

	// ShortlistExchangeType 排序结果交换机类型
	ShortlistExchangeType = "topic"

	// ShortlistMessageType 排序结果消息类型标识
	ShortlistMessageType = "resume.shortlist.v1"
)
