package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

const sqliteTimeout = 5 * time.Second

// SQLiteStore persists the chain in a SQLite database with one row per index.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path and ensures the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create chain directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers; the logger already holds one lock per append.
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
CREATE TABLE IF NOT EXISTS chain_entries (
  idx            INTEGER PRIMARY KEY,
  ts             TEXT    NOT NULL,
  event_type     TEXT    NOT NULL,
  severity       TEXT    NOT NULL,
  payload        TEXT    NOT NULL,
  actor          TEXT    NOT NULL,
  correlation_id TEXT    NOT NULL,
  previous_hash  TEXT    NOT NULL,
  nonce          INTEGER NOT NULL,
  hash           TEXT    NOT NULL,
  signature      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS chain_entries_ts ON chain_entries(ts);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create chain schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e *models.LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx)+1, 0) FROM chain_entries`).Scan(&next); err != nil {
		return err
	}
	if uint64(next) != e.Index {
		return fmt.Errorf("non-contiguous append: next index is %d, got %d", next, e.Index)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chain_entries(idx, ts, event_type, severity, payload, actor, correlation_id, previous_hash, nonce, hash, signature)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.Index), formatTimestamp(e.Timestamp), e.EventType, string(e.Severity), string(payload),
		e.Actor, e.CorrelationID, e.PreviousHash, int64(e.Nonce), e.Hash, e.Signature); err != nil {
		return err
	}

	return tx.Commit()
}

const selectEntry = `SELECT idx, ts, event_type, severity, payload, actor, correlation_id, previous_hash, nonce, hash, signature FROM chain_entries`

func (s *SQLiteStore) Get(ctx context.Context, index uint64) (*models.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE idx = ?`, int64(index))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chain entry %d: %w", index, models.ErrNotFound)
	}
	return e, err
}

func (s *SQLiteStore) Range(ctx context.Context, from, to uint64) ([]*models.LogEntry, error) {
	if from >= to {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectEntry+` WHERE idx >= ? AND idx < ? ORDER BY idx ASC`, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Last(ctx context.Context) (*models.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, selectEntry+` ORDER BY idx DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chain is empty: %w", models.ErrNotFound)
	}
	return e, err
}

func (s *SQLiteStore) Count(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_entries`).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*models.LogEntry, error) {
	var (
		idx, nonce int64
		ts         string
		severity   string
		payload    string
		e          models.LogEntry
	)
	if err := r.Scan(&idx, &ts, &e.EventType, &severity, &payload, &e.Actor, &e.CorrelationID,
		&e.PreviousHash, &nonce, &e.Hash, &e.Signature); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp of entry %d: %w", idx, err)
	}
	p, err := decodePayload([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", idx, err)
	}
	e.Index = uint64(idx)
	e.Nonce = uint64(nonce)
	e.Timestamp = t
	e.Severity = models.Severity(severity)
	e.Payload = p
	return &e, nil
}
