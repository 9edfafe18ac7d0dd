// Package keys manages the versioned symmetric keys used to encrypt log
// payloads. Old versions are never discarded so historical records stay
// decryptable after rotation.
package keys

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// KeyVersion is one generation of the data encryption key.
type KeyVersion struct {
	Version   int       `json:"version"`
	Key       []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns the key versions. The map and current pointer only change
// under mu.
type Manager struct {
	mu      sync.RWMutex
	keys    map[int]KeyVersion
	current int

	keyring *Keyring
	logger  *logging.Logger
	now     func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKeyring persists every rotation to k and restores versions from it.
func WithKeyring(k *Keyring) Option {
	return func(m *Manager) { m.keyring = k }
}

// WithClock overrides the creation-time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads persisted versions (when a keyring is configured) or
// creates version 1.
func NewManager(logger *logging.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		keys:   make(map[int]KeyVersion),
		logger: logging.OrDefault(logger).With(logging.Component("keys")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.keyring != nil {
		versions, current, err := m.keyring.Load()
		if err != nil {
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		for _, v := range versions {
			m.keys[v.Version] = v
		}
		if len(versions) > 0 {
			if _, ok := m.keys[current]; !ok {
				return nil, fmt.Errorf("%w: keyring current version %d is missing", models.ErrIntegrity, current)
			}
			m.current = current
			m.logger.Info("restored encryption keys", "versions", len(versions), logging.KeyVersion(current))
			return m, nil
		}
	}

	if _, err := m.rotateLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the version used for new encryptions.
func (m *Manager) Current() (KeyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, ok := m.keys[m.current]
	if !ok {
		return KeyVersion{}, fmt.Errorf("%w: no current key", models.ErrConfiguration)
	}
	return clone(kv), nil
}

// Get returns a specific historical version.
func (m *Manager) Get(version int) (KeyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, ok := m.keys[version]
	if !ok {
		return KeyVersion{}, fmt.Errorf("%w: unknown key version %d", models.ErrConfiguration, version)
	}
	return clone(kv), nil
}

// Rotate generates a new 256-bit key and makes it current. Prior versions
// are retained.
func (m *Manager) Rotate(ctx context.Context) (KeyVersion, error) {
	if err := ctx.Err(); err != nil {
		return KeyVersion{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Manager) rotateLocked() (KeyVersion, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return KeyVersion{}, fmt.Errorf("generate key: %w", err)
	}
	kv := KeyVersion{Version: m.current + 1, Key: key, CreatedAt: m.now().UTC()}

	if m.keyring != nil {
		versions := append(m.sortedLocked(), kv)
		if err := m.keyring.Save(versions, kv.Version); err != nil {
			return KeyVersion{}, fmt.Errorf("persist key version %d: %w", kv.Version, err)
		}
	}

	m.keys[kv.Version] = kv
	m.current = kv.Version
	metrics.KeyRotations.Inc()
	m.logger.Info("encryption key rotated", logging.KeyVersion(kv.Version))
	return clone(kv), nil
}

// Versions lists every retained version number in ascending order.
func (m *Manager) Versions() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.keys))
	for v := range m.keys {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// NeedsRotation reports whether the current key is older than interval.
func (m *Manager) NeedsRotation(interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, ok := m.keys[m.current]
	return !ok || now.Sub(kv.CreatedAt) >= interval
}

func (m *Manager) sortedLocked() []KeyVersion {
	out := make([]KeyVersion, 0, len(m.keys))
	for _, kv := range m.keys {
		out = append(out, kv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func clone(kv KeyVersion) KeyVersion {
	kv.Key = append([]byte(nil), kv.Key...)
	return kv
}
