// Package registry is the durable SessionDirectory: a Postgres-backed index
// of session ids alongside the engine's in-memory execution state
// (spec.md's Non-goals exclude persistent *execution* queueing, not a
// metadata index for listing). Grounded on the teacher's pkg/database
// (client.go/config.go/migrations.go split, jackc/pgx/v5,
// golang-migrate/migrate/v4) with entgo.io/ent dropped — see DESIGN.md —
// since ent's client is generated output this exercise cannot fabricate.
package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pajohmail/aden-hive/pkg/session"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var _ session.Directory = (*SessionDirectory)(nil)

// SessionDirectory is a durable index of session lifecycle events, backed
// by Postgres. Best-effort by design: Created and Removed log their own
// errors and return nothing, so a directory failure never fails a live
// session operation; List returns its error to the caller.
type SessionDirectory struct {
	pool *pgxpool.Pool
}

// Open runs pending migrations against dsn and returns a ready
// SessionDirectory.
func Open(ctx context.Context, dsn string) (*SessionDirectory, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("running session directory migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to session directory database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging session directory database: %w", err)
	}

	return &SessionDirectory{pool: pool}, nil
}

func migrateUp(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (d *SessionDirectory) Close() {
	d.pool.Close()
}

// Created records a new session (implements session.Directory).
func (d *SessionDirectory) Created(ctx context.Context, sessionID string) {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sessionID)
	if err != nil {
		logDirectoryError("recording session creation", sessionID, err)
	}
}

// Removed soft-deletes a session (implements session.Directory).
func (d *SessionDirectory) Removed(ctx context.Context, sessionID string) {
	_, err := d.pool.Exec(ctx,
		`UPDATE sessions SET removed_at = now() WHERE id = $1 AND removed_at IS NULL`, sessionID)
	if err != nil {
		logDirectoryError("recording session removal", sessionID, err)
	}
}

// Record is one row of the directory, returned by List.
type Record struct {
	ID        string
	CreatedAt time.Time
	RemovedAt *time.Time
}

// List returns sessions in the directory, newest first. includeRemoved
// controls whether soft-deleted rows are included (spec.md §6's implied
// GET /api/sessions listing).
func (d *SessionDirectory) List(ctx context.Context, includeRemoved bool) ([]Record, error) {
	query := `SELECT id, created_at, removed_at FROM sessions`
	if !includeRemoved {
		query += ` WHERE removed_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.RemovedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
