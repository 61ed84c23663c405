// Package sqlite provides a SQLite-backed record mirror.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/persist/sqlite/migrations"
	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite record store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Upsert inserts the record or replaces the row sharing its ID.
func (s *Store) Upsert(ctx context.Context, r record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := json.Marshal(r.Fields())
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO records (id, fields, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   fields = excluded.fields,
		   updated_at = excluded.updated_at`,
		r.ID().String(),
		string(fields),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID(), err)
	}
	return nil
}

// Delete removes the row with the given ID if present.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Get loads one record by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (record.Record, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT id, fields FROM records WHERE id = ?`, id.String())
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, fmt.Errorf("get record %s: %w", id, err)
	}
	return r, true, nil
}

// List loads every record ordered by ID.
func (s *Store) List(ctx context.Context) ([]record.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, fields FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record, error) {
	var (
		rawID     string
		rawFields string
	)
	if err := row.Scan(&rawID, &rawFields); err != nil {
		return record.Record{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return record.Record{}, fmt.Errorf("parse id %q: %w", rawID, err)
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return record.Record{}, fmt.Errorf("decode fields: %w", err)
	}
	return record.FromParts(id, fields), nil
}
