package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

var (
	sharedSignerOnce sync.Once
	sharedSigner     *Signer
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	sharedSignerOnce.Do(func() {
		s, err := GenerateSigner()
		if err != nil {
			panic(err)
		}
		sharedSigner = s
	})
	return sharedSigner
}

func newTestLogger(t *testing.T, store Store, difficulty int, opts ...Option) *HashChainLogger {
	t.Helper()
	l, err := NewHashChainLogger(context.Background(), store, testSigner(t), difficulty, logging.Discard(), opts...)
	require.NoError(t, err)
	return l
}

func appendN(t *testing.T, l *HashChainLogger, n int) []*models.LogEntry {
	t.Helper()
	var out []*models.LogEntry
	for i := 0; i < n; i++ {
		e, err := l.Append(context.Background(), "config_change", models.SeverityMedium,
			map[string]interface{}{"seq": i, "setting": "max_speed", "nested": map[string]interface{}{"b": 2, "a": 1.5}},
			"op1", "corr-1")
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppend_LinksAndMines(t *testing.T) {
	l := newTestLogger(t, NewMemoryStore(), 2)
	entries := appendN(t, l, 5)

	assert.Equal(t, models.GenesisHash, entries[0].PreviousHash)
	for i, e := range entries {
		assert.Equal(t, uint64(i), e.Index)
		assert.True(t, strings.HasPrefix(e.Hash, "00"), "hash %s should meet difficulty", e.Hash)
		assert.NotEmpty(t, e.Signature)
		if i > 0 {
			assert.Equal(t, entries[i-1].Hash, e.PreviousHash)
			assert.False(t, e.Timestamp.Before(entries[i-1].Timestamp))
		}
	}
	assert.Equal(t, uint64(5), l.Length())
	assert.Equal(t, entries[4].Hash, l.LastHash())
}

func TestVerifyChain_CleanChain(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		l := newTestLogger(t, NewMemoryStore(), 1)
		appendN(t, l, n)

		ok, defects, err := l.VerifyChain(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, ok, "chain of %d entries should verify", n)
		assert.Empty(t, defects)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *models.LogEntry)
	}{
		{"payload", func(e *models.LogEntry) { e.Payload["setting"] = "min_speed" }},
		{"hash", func(e *models.LogEntry) { e.Hash = flipHex(e.Hash) }},
		{"previous hash", func(e *models.LogEntry) { e.PreviousHash = flipHex(e.PreviousHash) }},
		{"signature", func(e *models.LogEntry) { e.Signature = flipBase64(e.Signature) }},
		{"actor", func(e *models.LogEntry) { e.Actor = "intruder" }},
		{"severity", func(e *models.LogEntry) { e.Severity = models.SeverityInfo }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			l := newTestLogger(t, store, 1)
			appendN(t, l, 6)

			tt.mutate(store.entries[3])

			ok, defects, err := l.VerifyChain(context.Background(), 0)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NotEmpty(t, defects)

			found := false
			for _, d := range defects {
				if d.Index == 3 {
					found = true
				}
			}
			assert.True(t, found, "expected a defect at index 3, got %v", defects)
		})
	}
}

func TestVerifyChain_CollectsAllDefects(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, 1)
	appendN(t, l, 6)

	store.entries[1].Payload["setting"] = "x"
	store.entries[4].Payload["setting"] = "y"

	ok, defects, err := l.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	indexes := map[uint64]bool{}
	for _, d := range defects {
		indexes[d.Index] = true
	}
	assert.True(t, indexes[1])
	assert.True(t, indexes[4])
}

func TestVerifyChain_StartIndex(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, 1)
	appendN(t, l, 6)

	store.entries[1].Payload["setting"] = "x"

	ok, defects, err := l.VerifyChain(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok, "defects before start index are out of range: %v", defects)

	ok, _, err = l.VerifyChain(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyChain_WrongSigner(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, 0)
	appendN(t, l, 2)

	other, err := GenerateSigner()
	require.NoError(t, err)
	verifier, err := NewHashChainLogger(context.Background(), store, other, 0, logging.Discard())
	require.NoError(t, err)

	ok, defects, err := verifier.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, defects, 2)
	for _, d := range defects {
		assert.Equal(t, DefectSignature, d.Kind)
	}
}

type failingStore struct {
	*MemoryStore
	fail bool
}

func (s *failingStore) Append(ctx context.Context, e *models.LogEntry) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Append(ctx, e)
}

func TestAppend_PersistenceFailureIsFatal(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	l := newTestLogger(t, store, 1)
	first := appendN(t, l, 1)[0]

	store.fail = true
	_, err := l.Append(context.Background(), "emergency_stop", models.SeverityCritical, nil, "op1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDurability))
	assert.Equal(t, uint64(1), l.Length())
	assert.Equal(t, first.Hash, l.LastHash())

	store.fail = false
	e, err := l.Append(context.Background(), "emergency_stop", models.SeverityCritical, nil, "op1", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Index)
	assert.Equal(t, first.Hash, e.PreviousHash)
}

func TestAppend_CancelledContext(t *testing.T) {
	l := newTestLogger(t, NewMemoryStore(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, "emergency_stop", models.SeverityCritical, nil, "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDurability))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(0), l.Length())
}

func TestAppend_ConcurrentAppendsStayTotallyOrdered(t *testing.T) {
	l := newTestLogger(t, NewMemoryStore(), 1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(context.Background(), "data_access", models.SeverityLow,
				map[string]interface{}{"worker": i}, "", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(16), l.Length())
	ok, defects, err := l.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok, "defects: %v", defects)
}

func TestMerkleRoot(t *testing.T) {
	h := func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	a, b, c := h("a"), h("b"), h("c")

	assert.Equal(t, "", MerkleRoot(nil))
	assert.Equal(t, a, MerkleRoot([]string{a}))
	assert.Equal(t, h(a+b), MerkleRoot([]string{a, b}))
	assert.Equal(t, h(h(a+b)+h(c+c)), MerkleRoot([]string{a, b, c}))
	assert.Equal(t, MerkleRoot([]string{a, b, c}), MerkleRoot([]string{a, b, c, c}))
	assert.NotEqual(t, MerkleRoot([]string{a, b}), MerkleRoot([]string{b, a}))
}

func TestHashChainLogger_MerkleRoot(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, 1)

	root, err := l.MerkleRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", root)

	appendN(t, l, 5)
	root1, err := l.MerkleRoot(context.Background())
	require.NoError(t, err)
	root2, err := l.MerkleRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root1, root2)

	store.entries[2].Hash = flipHex(store.entries[2].Hash)
	root3, err := l.MerkleRoot(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, root1, root3)
}

func TestEntriesBetween(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	l := newTestLogger(t, NewMemoryStore(), 0, WithClock(clock))
	appendN(t, l, 10) // minutes 1..10

	tests := []struct {
		name       string
		start, end time.Time
		want       []uint64
	}{
		{"open range", time.Time{}, time.Time{}, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"inclusive bounds", base.Add(3 * time.Minute), base.Add(5 * time.Minute), []uint64{2, 3, 4}},
		{"open start", time.Time{}, base.Add(2 * time.Minute), []uint64{0, 1}},
		{"open end", base.Add(9 * time.Minute), time.Time{}, []uint64{8, 9}},
		{"empty window", base.Add(20 * time.Minute), base.Add(30 * time.Minute), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.EntriesBetween(context.Background(), tt.start, tt.end)
			require.NoError(t, err)
			var got []uint64
			for _, e := range entries {
				got = append(got, e.Index)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockSkewKeepsTimestampsMonotonic(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	clock := func() time.Time {
		ts := times[i]
		i++
		return ts
	}
	l := newTestLogger(t, NewMemoryStore(), 0, WithClock(clock))
	entries := appendN(t, l, 3)

	assert.Equal(t, base, entries[1].Timestamp)
	assert.Equal(t, base.Add(time.Second), entries[2].Timestamp)
}

func TestNewHashChainLogger_Validation(t *testing.T) {
	_, err := NewHashChainLogger(context.Background(), NewMemoryStore(), testSigner(t), -1, nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	_, err = NewHashChainLogger(context.Background(), NewMemoryStore(), nil, 1, nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestMeetsDifficulty(t *testing.T) {
	tests := []struct {
		hash       string
		difficulty int
		want       bool
	}{
		{"00ab", 2, true},
		{"0ab0", 2, false},
		{"abcd", 0, true},
		{"000", 4, false},
		{"0000ff", 4, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MeetsDifficulty(tt.hash, tt.difficulty), "%s/%d", tt.hash, tt.difficulty)
	}
}

func TestSigner_LoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	s1, err := LoadOrCreateSigner(path)
	require.NoError(t, err)
	sig, err := s1.Sign("abc")
	require.NoError(t, err)

	s2, err := LoadOrCreateSigner(path)
	require.NoError(t, err)
	assert.NoError(t, s2.Verify("abc", sig))
	assert.Error(t, s2.Verify("abd", sig))

	pub1, err := s1.PublicKeyPEM()
	require.NoError(t, err)
	pub2, err := s2.PublicKeyPEM()
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2)
	assert.Contains(t, pub1, "BEGIN PUBLIC KEY")
}

func flipHex(s string) string {
	if s == "" {
		return "f"
	}
	b := []byte(s)
	if b[len(b)-1] == 'a' {
		b[len(b)-1] = 'b'
	} else {
		b[len(b)-1] = 'a'
	}
	return string(b)
}

func flipBase64(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
