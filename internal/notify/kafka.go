package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const publishTimeout = time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON, keyed by session so one
// shopper's notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	log    *slog.Logger
}

func NewKafkaNotifier(writer messageWriter, log *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, log: log}
}

// NewKafkaWriter builds an async writer; delivery failures are logged from
// the completion callback.
func NewKafkaWriter(brokers []string, topic string, log *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("notification delivery failed", slog.Int("messages", len(messages)), slog.Any("error", err))
			}
		},
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		k.log.ErrorContext(ctx, "marshal notification failed", slog.Any("error", err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = k.writer.WriteMessages(pubCtx, kafka.Message{
		Key:   []byte(n.SessionID),
		Value: payload,
	})
	if err != nil {
		k.log.ErrorContext(ctx, "publish notification failed",
			slog.String("session_id", n.SessionID),
			slog.String("kind", string(n.Kind)),
			slog.Any("error", err),
		)
	}
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
