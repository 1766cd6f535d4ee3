package mq

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"
)

func NewProducer(cfg Config, l *zap.Logger) (*KafkaProducer, error) {
	transport := &kafka.Transport{}

	if cfg.Username != "" && cfg.Password != "" {
		mechanism, err := scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
		if err != nil {
			return nil, err
		}

		transport.SASL = mechanism
	}

	return &KafkaProducer{
		prefix: cfg.TopicPrefix,
		writer: &kafka.Writer{
			Addr: kafka.TCP(cfg.Brokers...),

			Transport:              transport,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  cfg.Async,
			AllowAutoTopicCreation: true,
			Logger:                 infoLogger{l},
			ErrorLogger:            errorLogger{l},
		},
	}, nil
}

// KafkaProducer writes each queue to its own topic.
type KafkaProducer struct {
	prefix string
	writer *kafka.Writer
}

func (p *KafkaProducer) Topic(queue string) string {
	return p.prefix + queue
}

func (p *KafkaProducer) Product(ctx context.Context, queue string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.Topic(queue),
		Value: value,
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
