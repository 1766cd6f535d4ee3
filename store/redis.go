package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultNamespace keeps every key in one cluster hash slot so multi-key
// transactions work against a redis cluster.
const DefaultNamespace = "{dsched}"

var keyFormat = "%s:schedules"

type envelope struct {
	Order int             `json:"order"`
	Data  json.RawMessage `json:"data"`
}

// redisStore keeps schedule definitions in one hash: name -> envelope.
type redisStore struct {
	key     string
	backend redis.UniversalClient
}

// NewRedis returns a Store backed by a redis hash.
func NewRedis(rdb redis.UniversalClient, namespace string) Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &redisStore{
		key:     fmt.Sprintf(keyFormat, namespace),
		backend: rdb,
	}
}

func (s *redisStore) Put(ctx context.Context, r Record) error {
	value, err := encodeEnvelope(r)
	if err != nil {
		return err
	}
	return s.backend.HSet(ctx, s.key, r.Name, value).Err()
}

func (s *redisStore) ReplaceAll(ctx context.Context, records []Record) error {
	values := make([]interface{}, 0, 2*len(records))
	for _, r := range records {
		value, err := encodeEnvelope(r)
		if err != nil {
			return err
		}
		values = append(values, r.Name, value)
	}
	_, err := s.backend.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	return err
}

func (s *redisStore) Delete(ctx context.Context, name string) error {
	return s.backend.HDel(ctx, s.key, name).Err()
}

func (s *redisStore) All(ctx context.Context) ([]Record, error) {
	values, err := s.backend.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(values))
	for name, value := range values {
		r, err := decodeEnvelope(name, value)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op, the redis client is owned by the caller.
func (s *redisStore) Close() error { return nil }

func encodeEnvelope(r Record) (string, error) {
	if !json.Valid(r.Data) {
		return "", fmt.Errorf("schedule %q: data is not valid json", r.Name)
	}
	b, err := json.Marshal(envelope{Order: r.Order, Data: r.Data})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEnvelope(name, value string) (Record, error) {
	var e envelope
	if err := json.Unmarshal([]byte(value), &e); err != nil {
		return Record{}, fmt.Errorf("schedule %q: %w", name, err)
	}
	return Record{Name: name, Order: e.Order, Data: []byte(e.Data)}, nil
}
