package outcome

import (
	"context"
	"encoding/json"

	"job-agent-go/internal/config"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/types"
)

// EmailSignalConsumer 消费邮箱同步协作方发布的邮件信号队列，
// 逐条落进结果回流层。消息级幂等由 RecordOutcomeEvent 保证，
// 因此 redelivery 是安全的。
type EmailSignalConsumer struct {
	mq         *storage.RabbitMQ
	reconciler *Reconciler
	cfg        *config.RabbitMQConfig
}

func NewEmailSignalConsumer(mq *storage.RabbitMQ, reconciler *Reconciler, cfg *config.RabbitMQConfig) *EmailSignalConsumer {
	return &EmailSignalConsumer{mq: mq, reconciler: reconciler, cfg: cfg}
}

// Start 启动消费循环，返回消费者退出信号通道
func (c *EmailSignalConsumer) Start(ctx context.Context) (<-chan struct{}, error) {
	handler := func(body []byte) bool {
		var msg storage.EmailSignalMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			// 格式损坏的消息重投无意义，直接ack丢弃
			logger.Ctx(ctx).Error().Err(err).Msg("邮件信号消息反序列化失败，丢弃")
			return true
		}

		signal := &types.ParsedEmailSignal{
			GmailMessageID:       msg.MessageID,
			FromAddress:          msg.FromAddress,
			Subject:              msg.Subject,
			Snippet:              msg.Snippet,
			Classification:       msg.Classification,
			Confidence:           msg.Confidence,
			MatchedApplicationID: msg.ApplicationID,
			ReceivedAt:           msg.ReceivedAt,
		}

		if _, err := c.reconciler.RecordParsedEmail(ctx, signal); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageID).Msg("邮件解析日志落库失败，消息重投")
			return false
		}
		if err := c.reconciler.RecordOutcomeEvent(ctx, signal); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageID).Msg("结果事件摄入失败，消息重投")
			return false
		}
		return true
	}

	return c.mq.StartConsumer(c.cfg.EmailSignalQueue, c.cfg.PrefetchCount, handler)
}
