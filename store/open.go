package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Open initializes the configured store. The redis driver reuses rdb.
func Open(cfg Config, rdb redis.UniversalClient, logger *zap.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedis(rdb, cfg.Namespace), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg, logger)
	case "mongo", "mongodb":
		return OpenMongo(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Order != records[j].Order {
			return records[i].Order < records[j].Order
		}
		return records[i].Name < records[j].Name
	})
}
