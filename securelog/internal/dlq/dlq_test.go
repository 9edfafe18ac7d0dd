package dlq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
)

func TestQueue_WriteListPurge(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, logging.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	require.NoError(t, q.Write(ctx, Entry{Timestamp: day1, EventID: "a", Stage: "replicate", Error: "no active locations"}))
	require.NoError(t, q.Write(ctx, Entry{Timestamp: day1, EventID: "b", Stage: "siem", Error: "queue full"}))
	require.NoError(t, q.Write(ctx, Entry{
		Timestamp: day2,
		EventID:   "c",
		Stage:     "notify",
		Error:     "closed",
		Payload:   json.RawMessage(`{"reason":"manual"}`),
	}))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	entries, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].EventID, entries[1].EventID, entries[2].EventID})
	assert.JSONEq(t, `{"reason":"manual"}`, string(entries[2].Payload))

	limited, err := q.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	st := q.Stats()
	assert.True(t, st.Enabled)
	assert.Equal(t, uint64(3), st.Written)
	assert.Equal(t, 2, st.Files)

	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueue_DefaultsTimestamp(t *testing.T) {
	q, err := NewQueue(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	fixed := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	require.NoError(t, q.Write(context.Background(), Entry{EventID: "x", Stage: "siem", Error: "boom"}))
	entries, err := q.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.Equal(fixed))
}

func TestQueue_NilIsDisabled(t *testing.T) {
	var q *Queue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, Entry{EventID: "x"}))
	assert.False(t, q.Stats().Enabled)
	_, err := q.List(ctx, 0)
	assert.Error(t, err)
	_, err = q.Purge(ctx)
	assert.Error(t, err)
}
