package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const createSessionKV = `CREATE TABLE IF NOT EXISTS session_kv (
	name TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

// SQLStore keeps session state in a single key/value table. It works with the
// "postgres" (lib/pq) and "sqlite" (modernc) drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func OpenSQL(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one connection keeps ":memory:" databases shared and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createSessionKV)
	return err
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.kv(s.db).Get(ctx, key)
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.kv(s.db).Set(ctx, key, value)
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	return s.kv(s.db).Remove(ctx, key)
}

func (s *SQLStore) Atomic(ctx context.Context, fn func(tx KV) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(s.kv(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) kv(q querier) sqlKV { return sqlKV{q: q, postgres: s.driver == "postgres"} }

type sqlKV struct {
	q        querier
	postgres bool
}

func (k sqlKV) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := k.q.QueryRowContext(ctx, k.bind(`SELECT payload FROM session_kv WHERE name = ?`), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return []byte(payload), nil
}

func (k sqlKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := k.q.ExecContext(ctx, k.bind(`INSERT INTO session_kv(name, payload, updated_at) VALUES(?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`),
		key, string(value), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (k sqlKV) Remove(ctx context.Context, key string) error {
	_, err := k.q.ExecContext(ctx, k.bind(`DELETE FROM session_kv WHERE name = ?`), key)
	return err
}

// bind rewrites ? placeholders to $n for postgres.
func (k sqlKV) bind(q string) string {
	if !k.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
