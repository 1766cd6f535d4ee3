package mq

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

const defaultNamespace = "{dsched}"

var (
	queueFormat  = "%s:queue:%s"
	queuesFormat = "%s:queues"
)

// RedisQueue is a resque style work queue: one list per queue plus a set
// holding the queue names. It is both Producer and Reader.
type RedisQueue struct {
	namespace string
	backend   redis.UniversalClient
}

func NewRedisQueue(rdb redis.UniversalClient, funcOptions ...FuncOptions) *RedisQueue {
	op := &options{namespace: defaultNamespace}
	for _, f := range funcOptions {
		f(op)
	}
	return &RedisQueue{
		namespace: op.namespace,
		backend:   rdb,
	}
}

func (q *RedisQueue) key(queue string) string {
	return fmt.Sprintf(queueFormat, q.namespace, queue)
}

func (q *RedisQueue) Product(ctx context.Context, queue string, value []byte) error {
	_, err := q.backend.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, fmt.Sprintf(queuesFormat, q.namespace), queue)
		pipe.RPush(ctx, q.key(queue), value)
		return nil
	})
	return err
}

func (q *RedisQueue) Queues(ctx context.Context) ([]string, error) {
	queues, err := q.backend.SMembers(ctx, fmt.Sprintf(queuesFormat, q.namespace)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(queues)
	return queues, nil
}

func (q *RedisQueue) Range(ctx context.Context, queue string, start, stop int64) ([][]byte, error) {
	values, err := q.backend.LRange(ctx, q.key(queue), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (q *RedisQueue) Size(ctx context.Context, queue string) (int64, error) {
	return q.backend.LLen(ctx, q.key(queue)).Result()
}
