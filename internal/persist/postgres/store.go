// Package postgres provides a PostgreSQL-backed record mirror.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
    id UUID PRIMARY KEY,
    fields JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store persists records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Upsert inserts the record or replaces the row sharing its ID.
func (s *Store) Upsert(ctx context.Context, r record.Record) error {
	fields, err := json.Marshal(r.Fields())
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, fields, updated_at) VALUES ($1::uuid, $2::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at`,
		r.ID().String(), string(fields),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID(), err)
	}
	return nil
}

// Delete removes the row with the given ID if present.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1::uuid`, id.String()); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Get loads one record by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (record.Record, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id::text, fields::text FROM records WHERE id = $1::uuid`, id.String())
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, fmt.Errorf("get record %s: %w", id, err)
	}
	return r, true, nil
}

// List loads every record ordered by ID.
func (s *Store) List(ctx context.Context) ([]record.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, fields::text FROM records ORDER BY id`)
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

func scanRecord(row pgx.Row) (record.Record, error) {
	var rawID, rawFields string
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
