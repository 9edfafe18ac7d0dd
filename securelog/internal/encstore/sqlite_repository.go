package encstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

const repoTimeout = 5 * time.Second

// SQLiteRepository stores records in a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create encstore directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS encrypted_records (
  id             TEXT    PRIMARY KEY,
  ts             TEXT    NOT NULL,
  event_type     TEXT    NOT NULL,
  severity       TEXT    NOT NULL,
  actor          TEXT    NOT NULL,
  correlation_id TEXT    NOT NULL,
  ciphertext     BLOB    NOT NULL,
  nonce          BLOB    NOT NULL,
  tag            BLOB    NOT NULL,
  key_version    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS encrypted_records_ts ON encrypted_records(ts);
CREATE INDEX IF NOT EXISTS encrypted_records_event_type ON encrypted_records(event_type);
CREATE INDEX IF NOT EXISTS encrypted_records_correlation ON encrypted_records(correlation_id);
CREATE INDEX IF NOT EXISTS encrypted_records_key_version ON encrypted_records(key_version, ts);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create encstore schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// sqliteTime renders timestamps so lexical order equals time order.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.EncryptedRecord) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	m := rec.Metadata
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO encrypted_records(id, ts, event_type, severity, actor, correlation_id, ciphertext, nonce, tag, key_version)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, sqliteTime(rec.Timestamp), m.EventType, string(m.Severity), m.Actor, m.CorrelationID,
		rec.Ciphertext, rec.Nonce, rec.Tag, rec.KeyVersion)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

const selectRecord = `SELECT id, ts, event_type, severity, actor, correlation_id, ciphertext, nonce, tag, key_version FROM encrypted_records`

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.EncryptedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
	}
	return rec, err
}

func (r *SQLiteRepository) Search(ctx context.Context, filter models.SearchFilter) ([]models.LogMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if filter.EventType != "" {
		add("event_type = ?", filter.EventType)
	}
	if filter.Severity != "" {
		add("severity = ?", string(filter.Severity))
	}
	if filter.Actor != "" {
		add("actor = ?", filter.Actor)
	}
	if filter.CorrelationID != "" {
		add("correlation_id = ?", filter.CorrelationID)
	}
	if !filter.Start.IsZero() {
		add("ts >= ?", sqliteTime(filter.Start))
	}
	if !filter.End.IsZero() {
		add("ts <= ?", sqliteTime(filter.End))
	}

	query := `SELECT id, ts, event_type, severity, actor, correlation_id FROM encrypted_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LogMetadata
	for rows.Next() {
		var (
			m        models.LogMetadata
			ts       string
			severity string
		)
		if err := rows.Scan(&m.ID, &ts, &m.EventType, &severity, &m.Actor, &m.CorrelationID); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of record %s: %w", m.ID, err)
		}
		m.Timestamp = t
		m.Severity = models.Severity(severity)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Between(ctx context.Context, start, end time.Time) ([]*models.EncryptedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectRecord+` WHERE ts >= ? AND ts <= ? ORDER BY ts ASC`,
		sqliteTime(start), sqliteTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EncryptedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) LatestForKeyVersion(ctx context.Context, version int) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var ts sql.NullString
	if err := r.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM encrypted_records WHERE key_version = ?`, version).Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.EncryptedRecord, error) {
	var (
		rec      models.EncryptedRecord
		ts       string
		severity string
	)
	m := &rec.Metadata
	if err := row.Scan(&rec.ID, &ts, &m.EventType, &severity, &m.Actor, &m.CorrelationID,
		&rec.Ciphertext, &rec.Nonce, &rec.Tag, &rec.KeyVersion); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp of record %s: %w", rec.ID, err)
	}
	rec.Timestamp = t
	m.ID = rec.ID
	m.Timestamp = t
	m.Severity = models.Severity(severity)
	return &rec, nil
}
