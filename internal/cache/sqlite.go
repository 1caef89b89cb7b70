package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the cache slot in a key-value table, one row per key.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the kv table exists.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storeLogger := logger.Named("sqlite")
	storeLogger.Info("opening cache database", zap.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteStore{db: db, logger: storeLogger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (?, ?)`, KeySnapshot, KeyTimestamp)
	if err != nil {
		return Record{}, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()

	var rec Record
	var haveSnapshot, haveTimestamp bool
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Record{}, fmt.Errorf("scan cache row: %w", err)
		}
		switch key {
		case KeySnapshot:
			rec.Serialized = value
			haveSnapshot = true
		case KeyTimestamp:
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				s.logger.Warn("ignoring unparsable cache timestamp", zap.String("value", value))
				continue
			}
			rec.TimestampMillis = ts
			haveTimestamp = true
		}
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("iterate cache rows: %w", err)
	}
	if !haveSnapshot || !haveTimestamp {
		return Record{}, ErrNoRecord
	}
	return rec, nil
}

// Save writes both keys in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache save: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, KeySnapshot, rec.Serialized); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, KeyTimestamp, strconv.FormatInt(rec.TimestampMillis, 10)); err != nil {
		return fmt.Errorf("save timestamp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?)`, KeySnapshot, KeyTimestamp); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable. Used for health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database. Call during shutdown.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
