package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"critical", SeverityCritical, false},
		{"HIGH", SeverityHigh, false},
		{"error", SeverityHigh, false},
		{"warning", SeverityMedium, false},
		{" low ", SeverityLow, false},
		{"info", SeverityInfo, false},
		{"urgent", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		assert.Greater(t, Severities[i].Rank(), Severities[i-1].Rank())
		assert.Greater(t, Severities[i].SIEMLevel(), Severities[i-1].SIEMLevel())
	}
	assert.False(t, Severity("bogus").Valid())
	assert.Equal(t, 0, Severity("bogus").SIEMLevel())
	assert.True(t, SeverityCritical.IsCritical())
	assert.False(t, SeverityHigh.IsCritical())
}

func TestEventField(t *testing.T) {
	e := &Event{
		Type:     "emergency_stop",
		Severity: SeverityCritical,
		Actor:    "op1",
		Payload:  map[string]interface{}{"reason": "manual", "zone": 3, "nothing": nil},
	}

	tests := []struct {
		name   string
		field  string
		want   string
		wantOK bool
	}{
		{"event type", "event_type", "emergency_stop", true},
		{"severity", "severity", "critical", true},
		{"actor", "actor", "op1", true},
		{"missing correlation", "correlation_id", "", false},
		{"payload string", "reason", "manual", true},
		{"payload number", "zone", "3", true},
		{"payload nil", "nothing", "", false},
		{"payload missing", "absent", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Field(tt.field)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventSummary(t *testing.T) {
	assert.Equal(t, "manual", (&Event{Type: "emergency_stop", Payload: map[string]interface{}{"reason": "manual"}}).Summary())
	assert.Equal(t, "config_change", (&Event{Type: "config_change"}).Summary())
}

func TestSearchFilterMatches(t *testing.T) {
	now := time.Now()
	m := LogMetadata{
		ID:        "1",
		Timestamp: now,
		EventType: "data_access",
		Severity:  SeverityHigh,
		Actor:     "alice",
	}

	tests := []struct {
		name   string
		filter SearchFilter
		want   bool
	}{
		{"empty filter", SearchFilter{}, true},
		{"type match", SearchFilter{EventType: "data_access"}, true},
		{"type mismatch", SearchFilter{EventType: "emergency_stop"}, false},
		{"severity mismatch", SearchFilter{Severity: SeverityLow}, false},
		{"actor match", SearchFilter{Actor: "alice"}, true},
		{"before window", SearchFilter{Start: now.Add(time.Minute)}, false},
		{"after window", SearchFilter{End: now.Add(-time.Minute)}, false},
		{"inside window", SearchFilter{Start: now.Add(-time.Minute), End: now.Add(time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(m))
		})
	}
}

func TestEventStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateReplicated.Terminal())
}
