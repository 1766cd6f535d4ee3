package bucket

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

var keyFormat = "%s:delayed:%d"

// Prefix is the key prefix shared by every bucket of namespace.
func Prefix(namespace string) string {
	return namespace + ":delayed:"
}

// Key returns the key of the bucket due at timestamp.
func Key(namespace string, timestamp int64) string {
	return fmt.Sprintf(keyFormat, namespace, timestamp)
}

// pop and drop the bucket from the schedule index once it is empty.
var popScript = redis.NewScript(`
local v = redis.call('LPOP', KEYS[1])
if not v then
	return false
end
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return v
`)

var removeScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[1], 1, ARGV[1])
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('ZREM', KEYS[2], ARGV[2])
end
return n
`)

// bucket is an implement of Bucket on a redis list, indexed by its
// timestamp in the sorted set at schedule.
type bucket struct {
	key       string
	schedule  string
	timestamp int64
	backend   redis.UniversalClient
}

// New returns the bucket due at timestamp. schedule is the key of the sorted
// set indexing non-empty buckets.
func New(rdb redis.UniversalClient, namespace, schedule string, timestamp int64) Bucket {
	return &bucket{
		key:       Key(namespace, timestamp),
		schedule:  schedule,
		timestamp: timestamp,
		backend:   rdb,
	}
}

func (b *bucket) member() string {
	return strconv.FormatInt(b.timestamp, 10)
}

func (b *bucket) Add(ctx context.Context, value string) error {
	_, err := b.backend.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.key, value)
		pipe.ZAdd(ctx, b.schedule, &redis.Z{
			Score:  float64(b.timestamp),
			Member: b.member(),
		})
		return nil
	})
	return err
}

func (b *bucket) PushFront(ctx context.Context, value string) error {
	_, err := b.backend.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, b.key, value)
		pipe.ZAdd(ctx, b.schedule, &redis.Z{
			Score:  float64(b.timestamp),
			Member: b.member(),
		})
		return nil
	})
	return err
}

func (b *bucket) Values(ctx context.Context) ([]string, error) {
	return b.Range(ctx, 0, -1)
}

func (b *bucket) Range(ctx context.Context, start, stop int64) ([]string, error) {
	return b.backend.LRange(ctx, b.key, start, stop).Result()
}

func (b *bucket) Len(ctx context.Context) (int64, error) {
	return b.backend.LLen(ctx, b.key).Result()
}

func (b *bucket) Pop(ctx context.Context) (string, bool, error) {
	v, err := popScript.Run(ctx, b.backend, []string{b.key, b.schedule}, b.member()).Text()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *bucket) Remove(ctx context.Context, value string) (bool, error) {
	n, err := removeScript.Run(ctx, b.backend, []string{b.key, b.schedule}, value, b.member()).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *bucket) Flush(ctx context.Context, callback func(value string)) (int, error) {
	n := 0
	for {
		v, ok, err := b.Pop(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
		callback(v)
	}
}

func (b *bucket) Timestamp() int64 { return b.timestamp }

// Index return this bucket key in redis.
func (b *bucket) Index() string { return b.key }
