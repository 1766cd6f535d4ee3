package mq

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProduct(t *testing.T) {
	if os.Getenv("KAFKA_BROKERS") == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	p, err := NewProducer(Config{
		Brokers:     strings.Split(os.Getenv("KAFKA_BROKERS"), ","),
		TopicPrefix: os.Getenv("KAFKA_TOPIC_PREFIX"),
		Username:    os.Getenv("KAFKA_USERNAME"),
		Password:    os.Getenv("KAFKA_PASSWORD"),
	}, zap.NewExample())
	require.Nil(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = p.Product(ctx, "default", []byte(`{"class":"SomeQuickJob","args":[]}`))
	require.Nil(t, err)
}

func TestTopicPerQueue(t *testing.T) {
	p, err := NewProducer(Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "dsched."}, zap.NewNop())
	require.Nil(t, err)
	require.Equal(t, "dsched.high", p.Topic("high"))
}
