package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// NotificationCommand 是写入 Kafka 的统一消息格式，由下游消费者负责真正投递。
type NotificationCommand struct {
	Target  string    `json:"target"`
	Subject string    `json:"subject"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel 把告警写入 Kafka topic。
type KafkaChannel struct {
	writer messageWriter
	logger zerolog.Logger
	now    func() time.Time
}

// NewKafkaChannel 构造 Kafka 生产者。
func NewKafkaChannel(brokers []string, topic string, logger zerolog.Logger) *KafkaChannel {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaChannel(writer, logger)
}

func newKafkaChannel(writer messageWriter, logger zerolog.Logger) *KafkaChannel {
	return &KafkaChannel{
		writer: writer,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
		now:    time.Now,
	}
}

func (k *KafkaChannel) Name() string { return "kafka" }

// Send 以 recipient 作为 key，保证同一接收者的消息有序。
func (k *KafkaChannel) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(NotificationCommand{
		Target:  recipient,
		Subject: subject,
		Content: body,
		SentAt:  k.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification command: %w", err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(recipient), Value: payload}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}

	k.logger.Info().Str("recipient", recipient).Str("subject", subject).Msg("告警已发送 (Kafka)")
	return nil
}

// Close 刷新并关闭生产者。
func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}

var _ Channel = (*KafkaChannel)(nil)
