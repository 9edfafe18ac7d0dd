package encstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/migrations"
)

// PostgresRepository stores records in the encrypted_records table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository applies pending migrations and opens a pool.
func NewPostgresRepository(ctx context.Context, connString string, maxConns int32) (*PostgresRepository, error) {
	if _, err := migrations.Up(connString); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.EncryptedRecord) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
		INSERT INTO encrypted_records (id, ts, event_type, severity, actor, correlation_id, ciphertext, nonce, tag, key_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	m := rec.Metadata
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Timestamp, m.EventType, string(m.Severity), m.Actor, m.CorrelationID,
		rec.Ciphertext, rec.Nonce, rec.Tag, rec.KeyVersion,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("record %s already exists", rec.ID)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

const pgSelectRecord = `SELECT id, ts, event_type, severity, actor, correlation_id, ciphertext, nonce, tag, key_version FROM encrypted_records`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.EncryptedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanPgRecord(r.pool.QueryRow(ctx, pgSelectRecord+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Search(ctx context.Context, filter models.SearchFilter) ([]models.LogMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(column string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s $%d", column, len(args)))
	}
	if filter.EventType != "" {
		add("event_type =", filter.EventType)
	}
	if filter.Severity != "" {
		add("severity =", string(filter.Severity))
	}
	if filter.Actor != "" {
		add("actor =", filter.Actor)
	}
	if filter.CorrelationID != "" {
		add("correlation_id =", filter.CorrelationID)
	}
	if !filter.Start.IsZero() {
		add("ts >=", filter.Start)
	}
	if !filter.End.IsZero() {
		add("ts <=", filter.End)
	}

	query := `SELECT id, ts, event_type, severity, actor, correlation_id FROM encrypted_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()

	var out []models.LogMetadata
	for rows.Next() {
		var (
			m        models.LogMetadata
			severity string
		)
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.EventType, &severity, &m.Actor, &m.CorrelationID); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		m.Severity = models.Severity(severity)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Between(ctx context.Context, start, end time.Time) ([]*models.EncryptedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, pgSelectRecord+` WHERE ts >= $1 AND ts <= $2 ORDER BY ts ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*models.EncryptedRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LatestForKeyVersion(ctx context.Context, version int) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var ts *time.Time
	if err := r.pool.QueryRow(ctx,
		`SELECT MAX(ts) FROM encrypted_records WHERE key_version = $1`, version).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read key usage: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanPgRecord(row pgx.Row) (*models.EncryptedRecord, error) {
	var (
		rec      models.EncryptedRecord
		severity string
	)
	m := &rec.Metadata
	if err := row.Scan(&rec.ID, &rec.Timestamp, &m.EventType, &severity, &m.Actor, &m.CorrelationID,
		&rec.Ciphertext, &rec.Nonce, &rec.Tag, &rec.KeyVersion); err != nil {
		return nil, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	m.ID = rec.ID
	m.Timestamp = rec.Timestamp
	m.Severity = models.Severity(severity)
	return &rec, nil
}
