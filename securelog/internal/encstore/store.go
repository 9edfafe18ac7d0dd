// Package encstore seals event payloads with AES-256-GCM and keeps a
// searchable plaintext metadata row next to each ciphertext.
package encstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/keys"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// Store is the EncryptedLogStore.
type Store struct {
	repo             Repository
	keys             *keys.Manager
	rotationInterval time.Duration
	logger           *logging.Logger
	now              func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wires the store and rotates the current key when it has gone stale.
// A rotationInterval of zero disables proactive rotation.
func New(ctx context.Context, repo Repository, km *keys.Manager, rotationInterval time.Duration, logger *logging.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		repo:             repo,
		keys:             km,
		rotationInterval: rotationInterval,
		logger:           logging.OrDefault(logger).With(logging.Component("encstore")),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.rotateIfStale(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rotateIfStale(ctx context.Context) error {
	if s.rotationInterval <= 0 {
		return nil
	}
	current, err := s.keys.Current()
	if err != nil {
		return err
	}
	now := s.now()

	latest, found, err := s.repo.LatestForKeyVersion(ctx, current.Version)
	if err != nil {
		return fmt.Errorf("check key usage: %w", err)
	}
	stale := false
	if found {
		stale = now.Sub(latest) > s.rotationInterval
	} else {
		stale = s.keys.NeedsRotation(s.rotationInterval, now)
	}
	if !stale {
		return nil
	}

	kv, err := s.keys.Rotate(ctx)
	if err != nil {
		return fmt.Errorf("proactive key rotation: %w", err)
	}
	s.logger.InfoContext(ctx, "rotated stale encryption key",
		"previous_version", current.Version, logging.KeyVersion(kv.Version))
	return nil
}

// EncryptLog seals payload under the current key and persists it. The
// returned id is the caller's id, or a fresh uuid when id is empty.
func (s *Store) EncryptLog(ctx context.Context, id string, payload json.RawMessage, eventType string, severity models.Severity, actor, correlationID string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	kv, err := s.keys.Current()
	if err != nil {
		return "", err
	}

	meta := models.LogMetadata{
		ID:            id,
		Timestamp:     s.now().UTC().Truncate(time.Microsecond), // postgres keeps microseconds
		EventType:     eventType,
		Severity:      severity,
		Actor:         actor,
		CorrelationID: correlationID,
	}
	aad, err := associatedData(meta)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(kv.Key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, payload, aad)
	split := len(sealed) - tagSize

	rec := &models.EncryptedRecord{
		ID:         id,
		Timestamp:  meta.Timestamp,
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
		KeyVersion: kv.Version,
		Metadata:   meta,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("persist encrypted record %s: %w: %w", id, models.ErrDurability, err)
	}

	s.logger.DebugContext(ctx, "encrypted log stored", logging.EventID(id), logging.KeyVersion(kv.Version))
	return id, nil
}

// DecryptLog opens the record with the key version it was sealed under.
func (s *Store) DecryptLog(ctx context.Context, id string) (json.RawMessage, *models.LogMetadata, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	plain, err := s.open(rec)
	if err != nil {
		return nil, nil, err
	}
	meta := rec.Metadata
	return json.RawMessage(plain), &meta, nil
}

func (s *Store) open(rec *models.EncryptedRecord) ([]byte, error) {
	kv, err := s.keys.Get(rec.KeyVersion)
	if err != nil {
		return nil, err
	}
	aad, err := associatedData(rec.Metadata)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(kv.Key)
	if err != nil {
		return nil, err
	}
	if len(rec.Nonce) != nonceSize || len(rec.Tag) != tagSize {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("%w: record %s has malformed nonce or tag", models.ErrIntegrity, rec.ID)
	}

	sealed := make([]byte, 0, len(rec.Ciphertext)+len(rec.Tag))
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.Tag...)
	plain, err := gcm.Open(nil, rec.Nonce, sealed, aad)
	if err != nil {
		metrics.DecryptFailures.Inc()
		s.logger.Warn("authentication failed on decrypt", logging.EventID(rec.ID), logging.KeyVersion(rec.KeyVersion))
		return nil, fmt.Errorf("%w: record %s failed authentication", models.ErrIntegrity, rec.ID)
	}
	return plain, nil
}

// SearchLogs returns metadata rows only; nothing is decrypted.
func (s *Store) SearchLogs(ctx context.Context, filter models.SearchFilter) ([]models.LogMetadata, error) {
	if !filter.Severity.Valid() && filter.Severity != "" {
		return nil, fmt.Errorf("%w: unknown severity %q", models.ErrConfiguration, filter.Severity)
	}
	return s.repo.Search(ctx, filter)
}

// GetRecord returns the sealed record as stored.
func (s *Store) GetRecord(ctx context.Context, id string) (*models.EncryptedRecord, error) {
	return s.repo.Get(ctx, id)
}

// RecordsBetween returns sealed records in [start, end], oldest first.
func (s *Store) RecordsBetween(ctx context.Context, start, end time.Time) ([]*models.EncryptedRecord, error) {
	return s.repo.Between(ctx, start, end)
}

// Open decrypts an already fetched record. Used by export.
func (s *Store) Open(rec *models.EncryptedRecord) (json.RawMessage, error) {
	plain, err := s.open(rec)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plain), nil
}

func (s *Store) Close() error {
	return s.repo.Close()
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	return cipher.NewGCM(block)
}

// associatedData is the sorted-key JSON encoding of the metadata row.
func associatedData(m models.LogMetadata) ([]byte, error) {
	doc := map[string]interface{}{
		"id":             m.ID,
		"timestamp":      m.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":     m.EventType,
		"severity":       string(m.Severity),
		"actor":          m.Actor,
		"correlation_id": m.CorrelationID,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode associated data: %w", err)
	}
	return b, nil
}

