// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package store keeps plugin datafiles in PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/cinderhost/cinder/internal/datafile"
)

// poolIface is the subset of *pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DatafileStore implements datafile.Store on the datafiles table.
type DatafileStore struct {
	pool  poolIface
	close func()
}

var _ datafile.Store = (*DatafileStore)(nil)

// NewDatafileStore wraps an existing pool.
func NewDatafileStore(pool poolIface) *DatafileStore {
	return &DatafileStore{pool: pool}
}

// ConnectOptions controls how Connect retries.
type ConnectOptions struct {
	Attempts uint64
	Backoff  time.Duration
}

// DefaultConnectOptions retries five times starting at 200ms.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{Attempts: 5, Backoff: 200 * time.Millisecond}
}

// Connect opens a pool for dsn, retrying the initial ping with exponential
// backoff. A malformed dsn fails immediately.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*DatafileStore, error) {
	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(opts.Attempts, retry.NewExponential(opts.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.In("store").Code("DB_CONNECT_FAILED").
			Hint("check the database.url setting").
			Wrap(err)
	}
	return &DatafileStore{pool: pool, close: pool.Close}, nil
}

// Close releases the pool if the store opened it.
func (s *DatafileStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// Load implements datafile.Store.
func (s *DatafileStore) Load(ctx context.Context, name string) (string, bool, error) {
	var body string
	err := s.pool.QueryRow(ctx, `SELECT body FROM datafiles WHERE name = $1`, name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapPgError(err, "load datafile", name)
	}
	return body, true, nil
}

// Save implements datafile.Store.
func (s *DatafileStore) Save(ctx context.Context, name, body string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO datafiles (name, body, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		name, body)
	if err != nil {
		return wrapPgError(err, "save datafile", name)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List implements datafile.Store.
func (s *DatafileStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM datafiles WHERE name LIKE $1 ORDER BY name`,
		likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, wrapPgError(err, "list datafiles", prefix)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapPgError(err, "scan datafile name", prefix)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError(err, "list datafiles", prefix)
	}
	return names, nil
}

// Remove implements datafile.Store.
func (s *DatafileStore) Remove(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM datafiles WHERE name = $1`, name)
	if err != nil {
		return false, wrapPgError(err, "remove datafile", name)
	}
	return tag.RowsAffected() > 0, nil
}

// wrapPgError tags a missing schema separately so the operator is pointed
// at the migrate command.
func wrapPgError(err error, operation, name string) error {
	b := oops.In("store").With("operation", operation).With("name", name)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return b.Code("SCHEMA_MISSING").Hint("run `cinder migrate up`").Wrap(err)
	}
	return b.Code("DB_QUERY_FAILED").Wrap(err)
}
