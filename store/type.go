package store

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Config selects and configures the backing store of schedule definitions.
//
// Driver values:
//   - "redis": hash in the shared redis backend (default)
//   - "sqlite": SQLite database file
//   - "mongo": MongoDB collection
type Config struct {
	Driver string `yaml:"driver"`

	// Namespace prefixes redis keys.
	Namespace string `yaml:"namespace"`

	// sqlite
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// mongo
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Record is one persisted schedule definition.
type Record struct {
	Name string
	// Order is the position of the entry in its schedule, used to restore
	// config order on reload.
	Order int
	// Data is the JSON-encoded entry.
	Data []byte
}

// Store persists schedule definitions by name.
type Store interface {
	// Put inserts or replaces one record.
	Put(ctx context.Context, r Record) error

	// ReplaceAll atomically swaps the full record set.
	ReplaceAll(ctx context.Context, records []Record) error

	// Delete removes a record. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error

	// All returns every record sorted by Order.
	All(ctx context.Context) ([]Record, error)

	Close() error
}
