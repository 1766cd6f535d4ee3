package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS schedules (
	name TEXT PRIMARY KEY,
	ord  INTEGER NOT NULL,
	data TEXT NOT NULL
)`

type sqliteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (and migrates) a SQLite schedule store at cfg.Path.
func OpenSQLite(cfg Config, logger *zap.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	logger.Info("[Store] sqlite opened", zap.String("path", cfg.Path))
	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Put(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(name, ord, data) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET ord=excluded.ord, data=excluded.data`,
		r.Name, r.Order, string(r.Data),
	)
	return err
}

func (s *sqliteStore) ReplaceAll(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedules(name, ord, data) VALUES(?,?,?)`,
			r.Name, r.Order, string(r.Data),
		); err != nil {
			return fmt.Errorf("schedule %q: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, ord, data FROM schedules ORDER BY ord, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var data string
		if err := rows.Scan(&r.Name, &r.Order, &data); err != nil {
			return nil, err
		}
		r.Data = []byte(data)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
