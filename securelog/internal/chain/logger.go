// Package chain implements the append-only, proof-of-work gated and signed
// hash chain that anchors every logged event.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// ctx is checked every this many nonce attempts.
const nonceCheckInterval = 1024

// HashChainLogger is the single writer of the chain. Append is fully
// serialized; reads go straight to the store.
type HashChainLogger struct {
	mu         sync.Mutex
	store      Store
	signer     *Signer
	difficulty int
	logger     *logging.Logger
	now        func() time.Time

	// guarded by mu
	next     uint64
	lastHash string
	lastTime time.Time
}

// Option customizes a HashChainLogger.
type Option func(*HashChainLogger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *HashChainLogger) { l.now = now }
}

// NewHashChainLogger restores the chain tail from store.
func NewHashChainLogger(ctx context.Context, store Store, signer *Signer, difficulty int, logger *logging.Logger, opts ...Option) (*HashChainLogger, error) {
	if difficulty < 0 || difficulty > 64 {
		return nil, fmt.Errorf("%w: difficulty %d out of range", models.ErrConfiguration, difficulty)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signer is required", models.ErrConfiguration)
	}

	l := &HashChainLogger{
		store:      store,
		signer:     signer,
		difficulty: difficulty,
		logger:     logging.OrDefault(logger).With(logging.Component("chain")),
		now:        time.Now,
		lastHash:   models.GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := store.Last(ctx)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load chain tail: %w", err)
	default:
		l.next = last.Index + 1
		l.lastHash = last.Hash
		l.lastTime = last.Timestamp
	}
	metrics.ChainLength.Set(float64(l.next))

	return l, nil
}

// Append links, mines, signs and persists a new entry. The entry is only
// returned after the store has accepted it.
func (l *HashChainLogger) Append(ctx context.Context, eventType string, severity models.Severity, payload map[string]interface{}, actor, correlationID string) (*models.LogEntry, error) {
	normalized, err := NormalizePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDurability, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()

	ts := l.now().UTC()
	// Timestamps never go backwards so time-range lookups can bisect by index.
	if ts.Before(l.lastTime) {
		ts = l.lastTime
	}

	entry := &models.LogEntry{
		Index:         l.next,
		Timestamp:     ts,
		EventType:     eventType,
		Severity:      severity,
		Payload:       normalized,
		Actor:         actor,
		CorrelationID: correlationID,
		PreviousHash:  l.lastHash,
	}

	hash, err := l.mine(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: proof of work for entry %d: %w", models.ErrDurability, entry.Index, err)
	}
	entry.Hash = hash

	sig, err := l.signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDurability, err)
	}
	entry.Signature = sig

	if err := l.store.Append(ctx, entry); err != nil {
		l.logger.ErrorContext(ctx, "chain append not persisted",
			logging.ChainIndex(entry.Index),
			logging.Error(err),
		)
		return nil, fmt.Errorf("%w: persist entry %d: %w", models.ErrDurability, entry.Index, err)
	}

	l.next++
	l.lastHash = hash
	l.lastTime = ts

	metrics.ChainAppendDuration.Observe(time.Since(start).Seconds())
	metrics.ChainLength.Set(float64(l.next))

	l.logger.DebugContext(ctx, "chain entry appended",
		logging.ChainIndex(entry.Index),
		logging.EventType(eventType),
		"nonce", entry.Nonce,
		logging.Duration(time.Since(start)),
	)

	out := *entry
	return &out, nil
}

func (l *HashChainLogger) mine(ctx context.Context, e *models.LogEntry) (string, error) {
	for nonce := uint64(0); ; nonce++ {
		if nonce%nonceCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		e.Nonce = nonce
		hash, err := ComputeHash(e)
		if err != nil {
			return "", err
		}
		if MeetsDifficulty(hash, l.difficulty) {
			return hash, nil
		}
	}
}

// Length returns the number of entries in the chain.
func (l *HashChainLogger) Length() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// LastHash returns the hash of the newest entry, or the genesis hash.
func (l *HashChainLogger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Difficulty returns the configured proof-of-work difficulty.
func (l *HashChainLogger) Difficulty() int {
	return l.difficulty
}

// Get returns a single entry.
func (l *HashChainLogger) Get(ctx context.Context, index uint64) (*models.LogEntry, error) {
	return l.store.Get(ctx, index)
}

// Entries returns entries with from <= index < to.
func (l *HashChainLogger) Entries(ctx context.Context, from, to uint64) ([]*models.LogEntry, error) {
	return l.store.Range(ctx, from, to)
}

// EntriesBetween returns entries whose timestamps fall within [start, end].
// A zero start or end leaves that side open.
func (l *HashChainLogger) EntriesBetween(ctx context.Context, start, end time.Time) ([]*models.LogEntry, error) {
	n := l.Length()
	if n == 0 {
		return nil, nil
	}

	var searchErr error
	// first index whose timestamp satisfies pred
	search := func(pred func(time.Time) bool) uint64 {
		i := sort.Search(int(n), func(i int) bool {
			if searchErr != nil {
				return true
			}
			e, err := l.store.Get(ctx, uint64(i))
			if err != nil {
				searchErr = err
				return true
			}
			return pred(e.Timestamp)
		})
		return uint64(i)
	}

	from := uint64(0)
	if !start.IsZero() {
		from = search(func(t time.Time) bool { return !t.Before(start) })
	}
	to := n
	if !end.IsZero() {
		to = search(func(t time.Time) bool { return t.After(end) })
	}
	if searchErr != nil {
		return nil, fmt.Errorf("locate time range: %w", searchErr)
	}
	return l.store.Range(ctx, from, to)
}

// MerkleRoot returns the Merkle root over every entry hash, or "" when empty.
func (l *HashChainLogger) MerkleRoot(ctx context.Context) (string, error) {
	entries, err := l.store.Range(ctx, 0, l.Length())
	if err != nil {
		return "", fmt.Errorf("load chain: %w", err)
	}
	return MerkleRoot(EntryHashes(entries)), nil
}

// PublicKeyPEM exposes the verification key.
func (l *HashChainLogger) PublicKeyPEM() (string, error) {
	return l.signer.PublicKeyPEM()
}

// Close releases the underlying store.
func (l *HashChainLogger) Close() error {
	return l.store.Close()
}
