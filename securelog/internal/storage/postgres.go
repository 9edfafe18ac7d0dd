package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/migrations"
)

// PostgresBackend stores objects in the replica_blobs table, scoped by location.
type PostgresBackend struct {
	pool     *pgxpool.Pool
	location string
}

// NewPostgresBackend applies pending migrations and opens a small pool.
func NewPostgresBackend(ctx context.Context, connString, location string) (*PostgresBackend, error) {
	if _, err := migrations.Up(connString); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresBackend{pool: pool, location: location}, nil
}

func (b *PostgresBackend) Write(ctx context.Context, path string, data []byte) error {
	query := `
		INSERT INTO replica_blobs (location, path, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (location, path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if _, err := b.pool.Exec(ctx, query, b.location, path, data); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM replica_blobs WHERE location = $1 AND path = $2`, b.location, path).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, path string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM replica_blobs WHERE location = $1 AND path = $2`, b.location, path)
	return err
}

func (b *PostgresBackend) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM replica_blobs WHERE location = $1 AND path = $2)`, b.location, path).Scan(&exists)
	return exists, err
}

func (b *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT path FROM replica_blobs WHERE location = $1 AND starts_with(path, $2) ORDER BY path`, b.location, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) HealthCheck(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
