package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := Open(Config{Driver: "redis"}, rdb, zap.NewNop())
	require.Nil(t, err)
	return s
}

func newSQLiteStore(t *testing.T) Store {
	s, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "schedules.db"),
	}, nil, zap.NewNop())
	require.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recordNames(t *testing.T, s Store) []string {
	all, err := s.All(context.Background())
	require.Nil(t, err)
	var names []string
	for _, r := range all {
		names = append(names, r.Name)
	}
	return names
}

func exercise(t *testing.T, s Store) {
	ctx := context.Background()

	require.Nil(t, s.ReplaceAll(ctx, []Record{
		{Name: "zeta", Order: 0, Data: []byte(`{"class":"Z"}`)},
		{Name: "alpha", Order: 1, Data: []byte(`{"class":"A"}`)},
	}))

	all, err := s.All(ctx)
	require.Nil(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "zeta", all[0].Name)
	require.Equal(t, "alpha", all[1].Name)
	require.JSONEq(t, `{"class":"A"}`, string(all[1].Data))

	require.Nil(t, s.Put(ctx, Record{Name: "beta", Order: 2, Data: []byte(`{"class":"B"}`)}))
	require.Nil(t, s.Put(ctx, Record{Name: "alpha", Order: 3, Data: []byte(`{"class":"A2"}`)}))
	require.Equal(t, []string{"zeta", "beta", "alpha"}, recordNames(t, s))
	all, err = s.All(ctx)
	require.Nil(t, err)
	require.JSONEq(t, `{"class":"A2"}`, string(all[2].Data))

	require.Nil(t, s.Delete(ctx, "zeta"))
	require.Nil(t, s.Delete(ctx, "missing"))
	require.Equal(t, []string{"beta", "alpha"}, recordNames(t, s))

	require.Nil(t, s.ReplaceAll(ctx, nil))
	all, err = s.All(ctx)
	require.Nil(t, err)
	require.Len(t, all, 0)
}

func TestRedisStore(t *testing.T) {
	exercise(t, newRedisStore(t))
}

func TestRedisStoreRejectsInvalidJSON(t *testing.T) {
	s := newRedisStore(t)
	require.NotNil(t, s.Put(context.Background(), Record{Name: "bad", Data: []byte("{")}))
}

func TestSQLiteStore(t *testing.T) {
	exercise(t, newSQLiteStore(t))
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	s, err := Open(Config{Driver: "mongo", URI: uri, Database: "dsched_test"}, nil, zap.NewExample())
	require.Nil(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, nil, zap.NewNop())
	require.ErrorIs(t, err, ErrUnknownDriver)
}
