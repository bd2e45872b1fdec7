package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
            list_name TEXT NOT NULL,
            record_key TEXT NOT NULL,
            data BLOB NOT NULL,
            mod_time INTEGER NOT NULL,
            PRIMARY KEY (list_name, record_key)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_records_key ON records(record_key);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, name string, key Key) (Entry, error) {
	var data []byte
	var modTime int64
	err := s.db.QueryRowContext(ctx, `SELECT data, mod_time FROM records
        WHERE list_name = ? AND record_key = ?;`, name, string(key)).Scan(&data, &modTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("select %s: %w", key, err)
	}
	return Entry{Data: data, ModTime: time.Unix(0, modTime)}, nil
}

func (s *SQLite) Put(ctx context.Context, name string, key Key, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	query := `INSERT INTO records (list_name, record_key, data, mod_time)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(list_name, record_key) DO UPDATE SET data = excluded.data, mod_time = excluded.mod_time;`
	if _, err := s.db.ExecContext(ctx, query, name, string(key), data, s.now().UnixNano()); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, name string, key Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE list_name = ? AND record_key = ?;`, name, string(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT list_name FROM records
        WHERE record_key = ? ORDER BY list_name;`, string(KeyMembers))
	if err != nil {
		return nil, fmt.Errorf("list names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return names, nil
}
