// Package dlq records best-effort pipeline failures on disk for later
// inspection or replay.
package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
)

const filePrefix = "failed-"

// Entry captures one failed stage of one event.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	EventID   string          `json:"event_id"`
	Stage     string          `json:"stage"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Stats summarizes queue contents.
type Stats struct {
	Enabled  bool   `json:"enabled"`
	Written  uint64 `json:"written"`
	Files    int    `json:"files"`
	BasePath string `json:"base_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Queue appends entries as JSON lines, one file per UTC day. A nil *Queue
// is a disabled queue.
type Queue struct {
	basePath string
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	written uint64
}

// NewQueue creates a DLQ that writes to basePath.
func NewQueue(basePath string, logger *logging.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = "/var/lib/securelog/dlq"
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{
		basePath: basePath,
		logger:   logging.OrDefault(logger).With(logging.Component("dlq")),
		now:      time.Now,
	}, nil
}

func (q *Queue) fileFor(t time.Time) string {
	return filepath.Join(q.basePath, filePrefix+t.UTC().Format("2006-01-02")+".jsonl")
}

// Write appends one failure.
func (q *Queue) Write(ctx context.Context, entry Entry) error {
	if q == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = q.now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.fileFor(entry.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open dlq file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	q.written++
	q.logger.WarnContext(ctx, "event stage dead-lettered",
		logging.EventID(entry.EventID),
		logging.Stage(entry.Stage),
		"error", entry.Error)
	return nil
}

func (q *Queue) files() ([]string, error) {
	dirEntries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), filePrefix) {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.files()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, name := range names {
		f, err := os.Open(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.ErrorContext(ctx, "failed to open dlq file", logging.Path(name), logging.Error(err))
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var e Entry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				q.logger.ErrorContext(ctx, "failed to parse dlq line", logging.Path(name), logging.Error(err))
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				f.Close()
				return out, nil
			}
		}
		f.Close()
	}
	return out, nil
}

// Stats reports queue counters.
func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{Enabled: true, Written: q.written, BasePath: q.basePath}
	names, err := q.files()
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Files = len(names)
	return st
}

// Purge removes every queue file and returns how many were deleted.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.files()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.ErrorContext(ctx, "failed to delete dlq file", logging.Path(name), logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dlq purged", "files", deleted)
	return deleted, nil
}
