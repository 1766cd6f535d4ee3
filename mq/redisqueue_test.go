package mq

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	defer rdb.Close()

	ctx := context.Background()
	q := NewRedisQueue(rdb, WithNamespace("test"))

	require.Nil(t, q.Product(ctx, "low", []byte("a")))
	require.Nil(t, q.Product(ctx, "high", []byte("b")))
	require.Nil(t, q.Product(ctx, "high", []byte("c")))
	require.True(t, mr.Exists("test:queue:high"))

	queues, err := q.Queues(ctx)
	require.Nil(t, err)
	require.Equal(t, []string{"high", "low"}, queues)

	size, err := q.Size(ctx, "high")
	require.Nil(t, err)
	require.Equal(t, int64(2), size)

	values, err := q.Range(ctx, "high", 0, -1)
	require.Nil(t, err)
	require.Equal(t, [][]byte{[]byte("b"), []byte("c")}, values)

	values, err = q.Range(ctx, "low", 0, -1)
	require.Nil(t, err)
	require.Equal(t, [][]byte{[]byte("a")}, values)

	values, err = q.Range(ctx, "missing", 0, -1)
	require.Nil(t, err)
	require.Len(t, values, 0)
}
