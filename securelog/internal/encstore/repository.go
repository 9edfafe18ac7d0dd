package encstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Repository persists encrypted records and their metadata rows.
type Repository interface {
	Insert(ctx context.Context, rec *models.EncryptedRecord) error

	// Get returns the record or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.EncryptedRecord, error)

	// Search returns metadata rows matching filter, newest first.
	Search(ctx context.Context, filter models.SearchFilter) ([]models.LogMetadata, error)

	// Between returns full records with start <= timestamp <= end, oldest first.
	Between(ctx context.Context, start, end time.Time) ([]*models.EncryptedRecord, error)

	// LatestForKeyVersion returns the timestamp of the newest record sealed
	// under version, and false when there is none.
	LatestForKeyVersion(ctx context.Context, version int) (time.Time, bool, error)

	Close() error
}

// MemoryRepository keeps records in a map. Used for tests and ephemeral runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*models.EncryptedRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*models.EncryptedRecord)}
}

func (r *MemoryRepository) Insert(_ context.Context, rec *models.EncryptedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	cp := copyRecord(rec)
	r.records[rec.ID] = cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.EncryptedRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (r *MemoryRepository) Search(_ context.Context, filter models.SearchFilter) ([]models.LogMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.LogMetadata
	for _, rec := range r.records {
		if filter.Matches(rec.Metadata) {
			out = append(out, rec.Metadata)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Between(_ context.Context, start, end time.Time) ([]*models.EncryptedRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	filter := models.SearchFilter{Start: start, End: end}
	var out []*models.EncryptedRecord
	for _, rec := range r.records {
		if filter.Matches(rec.Metadata) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryRepository) LatestForKeyVersion(_ context.Context, version int) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest time.Time
	found := false
	for _, rec := range r.records {
		if rec.KeyVersion == version && (!found || rec.Timestamp.After(latest)) {
			latest = rec.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

func (r *MemoryRepository) Close() error { return nil }

// tamper replaces a stored record in place. Test hook.
func (r *MemoryRepository) tamper(id string, fn func(rec *models.EncryptedRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		fn(rec)
	}
}

func copyRecord(rec *models.EncryptedRecord) *models.EncryptedRecord {
	cp := *rec
	cp.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	cp.Nonce = append([]byte(nil), rec.Nonce...)
	cp.Tag = append([]byte(nil), rec.Tag...)
	return &cp
}
