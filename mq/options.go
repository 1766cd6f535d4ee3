package mq

import (
	"fmt"

	"go.uber.org/zap"
)

type infoLogger struct {
	internal *zap.Logger
}

func (l infoLogger) Printf(format string, v ...interface{}) {
	l.internal.Info(fmt.Sprintf(format, v...))
}

type errorLogger struct {
	internal *zap.Logger
}

func (l errorLogger) Printf(format string, v ...interface{}) {
	l.internal.Error(fmt.Sprintf(format, v...))
}

// Config configures the kafka transport. Every queue maps to the topic
// TopicPrefix + queue.
type Config struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	// Async makes Product return before the broker acknowledged the write.
	// Delivery errors are then only logged.
	Async bool `yaml:"async"`
}

type options struct {
	namespace string
}

type FuncOptions func(o *options)

// WithNamespace prefixes every redis key of a RedisQueue.
func WithNamespace(namespace string) FuncOptions {
	return func(o *options) {
		o.namespace = namespace
	}
}
