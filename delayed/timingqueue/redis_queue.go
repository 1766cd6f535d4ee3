package timingqueue

import (
	"context"
	"fmt"
	"strconv"

	"dsched/delayed/bucket"

	"github.com/go-redis/redis/v8"
)

var keyFormat = "%s:delayed_queue_schedule"

var clearScript = redis.NewScript(`
local ts = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, t in ipairs(ts) do
	redis.call('DEL', ARGV[1] .. t)
end
redis.call('DEL', KEYS[1])
return #ts
`)

// queue implement TimingQueue on a redis sorted set whose members and scores
// are both the bucket timestamp.
type queue struct {
	key       string
	namespace string
	backend   redis.UniversalClient
}

// Key returns the index key of namespace.
func Key(namespace string) string {
	return fmt.Sprintf(keyFormat, namespace)
}

func New(backend redis.UniversalClient, namespace string) TimingQueue {
	return &queue{
		key:       Key(namespace),
		namespace: namespace,
		backend:   backend,
	}
}

func (t *queue) Key() string { return t.key }

func (t *queue) Head(ctx context.Context) (int64, bool, error) {
	result, err := t.backend.ZRangeWithScores(ctx, t.key, 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(result) == 0 {
		return 0, false, nil
	}
	return int64(result[0].Score), true, nil
}

func (t *queue) Range(ctx context.Context, start, stop int64) ([]int64, error) {
	members, err := t.backend.ZRange(ctx, t.key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return parse(members)
}

func (t *queue) Due(ctx context.Context, now int64, limit int64) ([]int64, error) {
	members, err := t.backend.ZRangeByScore(ctx, t.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	return parse(members)
}

func (t *queue) Count(ctx context.Context) (int64, error) {
	return t.backend.ZCard(ctx, t.key).Result()
}

func (t *queue) Clear(ctx context.Context) (int64, error) {
	return clearScript.Run(ctx, t.backend, []string{t.key}, bucket.Prefix(t.namespace)).Int64()
}

func parse(members []string) ([]int64, error) {
	out := make([]int64, 0, len(members))
	for _, m := range members {
		ts, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed delayed timestamp %q: %w", m, err)
		}
		out = append(out, ts)
	}
	return out, nil
}
