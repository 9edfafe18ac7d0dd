package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
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

// fakeChannel records every send and fails on demand.
type fakeChannel struct {
	kind ChannelType

	mu       sync.Mutex
	sent     []Message
	targets  []string
	failures int // remaining failures before sends succeed; -1 fails forever
}

func (f *fakeChannel) Type() ChannelType { return f.kind }

func (f *fakeChannel) ValidateRecipient(recipient string) error {
	if strings.HasPrefix(recipient, "bad") {
		return fmt.Errorf("%w: bad recipient", models.ErrConfiguration)
	}
	return nil
}

func (f *fakeChannel) Send(_ context.Context, recipient string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, recipient)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("gateway timeout")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func (f *fakeChannel) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func newTestManager(t *testing.T, settings Settings, channels ...Channel) *Manager {
	t.Helper()
	if settings.RetryInitial == 0 {
		settings.RetryInitial = time.Millisecond
	}
	m := NewManager(settings, logging.Discard())
	for _, ch := range channels {
		m.RegisterChannel(ch)
	}
	m.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func testEvent(id string, severity models.Severity) models.Event {
	return models.Event{
		ID:        id,
		Type:      "emergency_stop",
		Severity:  severity,
		Timestamp: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Payload:   map[string]interface{}{"reason": "manual", "zone": "A"},
		Actor:     "op1",
	}
}

func flush(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Flush(ctx))
}

func TestAddRule_Validation(t *testing.T) {
	m := NewManager(Settings{}, logging.Discard())
	m.RegisterChannel(&fakeChannel{kind: ChannelEmail})

	valid := Rule{ID: "r1", Enabled: true, Channels: map[ChannelType][]string{ChannelEmail: {"ops@example.com"}}}
	require.NoError(t, m.AddRule(valid))

	tests := []struct {
		name   string
		mutate func(r *Rule)
	}{
		{"missing id", func(r *Rule) { r.ID = " " }},
		{"no channels", func(r *Rule) { r.Channels = nil }},
		{"unknown channel", func(r *Rule) { r.Channels = map[ChannelType][]string{ChannelSMS: {"+15550100"}} }},
		{"bad recipient", func(r *Rule) { r.Channels = map[ChannelType][]string{ChannelEmail: {"bad@"}} }},
		{"unknown template", func(r *Rule) { r.TemplateID = "nope" }},
		{"unknown severity", func(r *Rule) { r.Severities = []models.Severity{"urgent"} }},
		{"negative cap", func(r *Rule) { r.MaxPerHour = -1 }},
		{"escalation without recipients", func(r *Rule) { r.EscalationChannels = []ChannelType{ChannelChat} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.ID = "candidate"
			tt.mutate(&r)
			err := m.AddRule(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration), "got %v", err)
		})
	}
	assert.Len(t, m.Rules(), 1)
	assert.True(t, m.RemoveRule("r1"))
	assert.False(t, m.RemoveRule("r1"))
}

func TestRuleMatching(t *testing.T) {
	base := testEvent("e1", models.SeverityHigh)

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"wildcard", Rule{Enabled: true}, true},
		{"disabled", Rule{Enabled: false}, false},
		{"event type hit", Rule{Enabled: true, EventTypes: []string{"login", "emergency_stop"}}, true},
		{"event type miss", Rule{Enabled: true, EventTypes: []string{"login"}}, false},
		{"severity hit", Rule{Enabled: true, Severities: []models.Severity{models.SeverityHigh}}, true},
		{"severity miss", Rule{Enabled: true, Severities: []models.Severity{models.SeverityCritical}}, false},
		{"payload condition", Rule{Enabled: true, Conditions: map[string]string{"zone": "A"}}, true},
		{"payload condition miss", Rule{Enabled: true, Conditions: map[string]string{"zone": "B"}}, false},
		{"actor condition", Rule{Enabled: true, Conditions: map[string]string{"actor": "op1"}}, true},
		{"missing field", Rule{Enabled: true, Conditions: map[string]string{"operator": "x"}}, false},
		{"all selectors", Rule{
			Enabled:    true,
			EventTypes: []string{"emergency_stop"},
			Severities: []models.Severity{models.SeverityHigh},
			Conditions: map[string]string{"reason": "manual"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(base))
		})
	}
}

func TestNotify_DeliversToEveryRecipient(t *testing.T) {
	email := &fakeChannel{kind: ChannelEmail}
	chat := &fakeChannel{kind: ChannelChat}
	m := newTestManager(t, Settings{}, email, chat)

	require.NoError(t, m.AddRule(Rule{
		ID:      "estop",
		Enabled: true,
		Channels: map[ChannelType][]string{
			ChannelEmail: {"a@example.com", "b@example.com"},
			ChannelChat:  {"https://chat.example.com/hook"},
		},
	}))
	require.NoError(t, m.AddRule(Rule{
		ID:         "logins",
		Enabled:    true,
		EventTypes: []string{"login"},
		Channels:   map[ChannelType][]string{ChannelEmail: {"sec@example.com"}},
	}))

	require.NoError(t, m.Notify(context.Background(), testEvent("e1", models.SeverityCritical)))
	flush(t, m)

	records := m.History(HistoryFilter{EventID: "e1"})
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, StatusSent, r.Status)
		assert.Equal(t, "estop", r.RuleID)
		assert.NotNil(t, r.SentAt)
	}
	require.Len(t, email.messages(), 2)
	assert.Contains(t, email.messages()[0].Subject, "CRITICAL")
	assert.Len(t, chat.messages(), 1)
}

func TestDispatch_RunsOnCallerGoroutine(t *testing.T) {
	sms := &fakeChannel{kind: ChannelSMS}
	m := NewManager(Settings{RetryInitial: time.Millisecond}, logging.Discard())
	m.RegisterChannel(sms)
	require.NoError(t, m.AddRule(Rule{
		ID:       "estop",
		Enabled:  true,
		Channels: map[ChannelType][]string{ChannelSMS: {"+15550100"}},
	}))

	// No workers are running, so records can only come from Dispatch.
	require.NoError(t, m.Dispatch(context.Background(), testEvent("e1", models.SeverityCritical)))

	records := m.History(HistoryFilter{EventID: "e1"})
	require.Len(t, records, 1)
	assert.Equal(t, StatusSent, records[0].Status)
	assert.Equal(t, 1, sms.attempts())

	require.NoError(t, m.Stop(context.Background()))
	assert.ErrorIs(t, m.Dispatch(context.Background(), testEvent("e2", models.SeverityCritical)), models.ErrClosed)
}

func TestNotify_HourlyCap(t *testing.T) {
	webhook := &fakeChannel{kind: ChannelWebhook}
	m := newTestManager(t, Settings{Workers: 1}, webhook)

	require.NoError(t, m.AddRule(Rule{
		ID:         "capped",
		Enabled:    true,
		MaxPerHour: 2,
		Channels:   map[ChannelType][]string{ChannelWebhook: {"https://hooks.example.com/a"}},
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Notify(context.Background(), testEvent(fmt.Sprintf("e%d", i), models.SeverityHigh)))
	}
	flush(t, m)

	assert.Len(t, m.History(HistoryFilter{RuleID: "capped", Status: StatusSent}), 2)
	limited := m.History(HistoryFilter{RuleID: "capped", Status: StatusRateLimited})
	assert.Len(t, limited, 3)
	assert.Equal(t, 2, webhook.attempts())
	for _, r := range limited {
		assert.Contains(t, r.Error, "hourly cap")
	}
}

func TestNotify_Cooldown(t *testing.T) {
	webhook := &fakeChannel{kind: ChannelWebhook}
	m := newTestManager(t, Settings{Workers: 1}, webhook)

	require.NoError(t, m.AddRule(Rule{
		ID:       "cool",
		Enabled:  true,
		Cooldown: time.Hour,
		Channels: map[ChannelType][]string{ChannelWebhook: {"https://hooks.example.com/a"}},
	}))
	require.NoError(t, m.Notify(context.Background(), testEvent("e1", models.SeverityLow)))
	require.NoError(t, m.Notify(context.Background(), testEvent("e2", models.SeverityLow)))
	flush(t, m)

	assert.Len(t, m.History(HistoryFilter{Status: StatusSent}), 1)
	assert.Len(t, m.History(HistoryFilter{Status: StatusRateLimited}), 1)
}

func TestNotify_RetriesThenSucceeds(t *testing.T) {
	sms := &fakeChannel{kind: ChannelSMS, failures: 2}
	m := newTestManager(t, Settings{MaxRetries: 3}, sms)

	require.NoError(t, m.AddRule(Rule{
		ID:       "sms",
		Enabled:  true,
		Channels: map[ChannelType][]string{ChannelSMS: {"+15550100"}},
	}))
	require.NoError(t, m.Notify(context.Background(), testEvent("e1", models.SeverityMedium)))
	flush(t, m)

	records := m.History(HistoryFilter{EventID: "e1"})
	require.Len(t, records, 1)
	assert.Equal(t, StatusSent, records[0].Status)
	assert.Equal(t, 2, records[0].RetryCount)
	assert.Equal(t, 3, sms.attempts())
}

func TestNotify_EscalatesExactlyOnce(t *testing.T) {
	email := &fakeChannel{kind: ChannelEmail, failures: -1}
	chat := &fakeChannel{kind: ChannelChat}
	m := newTestManager(t, Settings{MaxRetries: 1}, email, chat)

	require.NoError(t, m.AddRule(Rule{
		ID:      "esc",
		Enabled: true,
		Channels: map[ChannelType][]string{
			ChannelEmail: {"oncall@example.com"},
			ChannelChat:  {"https://chat.example.com/hook"},
		},
		EscalationDelay:    20 * time.Millisecond,
		EscalationChannels: []ChannelType{ChannelChat},
	}))
	require.NoError(t, m.Notify(context.Background(), testEvent("e1", models.SeverityMedium)))
	flush(t, m)

	failed := m.History(HistoryFilter{EventID: "e1", Status: StatusFailed})
	require.Len(t, failed, 1)
	assert.Equal(t, ChannelEmail, failed[0].Channel)
	assert.Equal(t, 1, failed[0].RetryCount)

	require.Eventually(t, func() bool {
		return len(m.History(HistoryFilter{RuleID: "esc-escalation"})) > 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	escalated := m.History(HistoryFilter{RuleID: "esc-escalation"})
	require.Len(t, escalated, 1)
	assert.True(t, escalated[0].Escalation)
	assert.Equal(t, ChannelChat, escalated[0].Channel)
	assert.Equal(t, StatusSent, escalated[0].Status)

	msgs := chat.messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Escalation)
	assert.Equal(t, models.SeverityCritical, msgs[1].Event.Severity)
	assert.Contains(t, msgs[1].Subject, "ESCALATION")
	assert.Equal(t, 2, email.attempts(), "escalation only targets escalation channels")
}

func TestNotify_QueueFullAndClosed(t *testing.T) {
	m := NewManager(Settings{QueueSize: 1}, logging.Discard())

	require.NoError(t, m.Notify(context.Background(), testEvent("e1", models.SeverityInfo)))
	err := m.Notify(context.Background(), testEvent("e2", models.SeverityInfo))
	assert.True(t, errors.Is(err, models.ErrQueueFull))

	m.Start(context.Background())
	flush(t, m)
	require.NoError(t, m.Stop(context.Background()))

	err = m.Notify(context.Background(), testEvent("e3", models.SeverityInfo))
	assert.True(t, errors.Is(err, models.ErrClosed))
}

func TestHistory_Bounded(t *testing.T) {
	webhook := &fakeChannel{kind: ChannelWebhook}
	m := newTestManager(t, Settings{HistorySize: 3, Workers: 1}, webhook)
	require.NoError(t, m.AddRule(Rule{
		ID:       "all",
		Enabled:  true,
		Channels: map[ChannelType][]string{ChannelWebhook: {"https://hooks.example.com/a"}},
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Notify(context.Background(), testEvent(fmt.Sprintf("e%d", i), models.SeverityInfo)))
	}
	flush(t, m)

	records := m.History(HistoryFilter{})
	require.Len(t, records, 3)
	assert.Equal(t, "e4", records[0].EventID)
	assert.Len(t, m.History(HistoryFilter{Limit: 1}), 1)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
templates:
  - id: short
    subject: "{{.Severity}} {{.Event.Type}}"
    body: "{{.Summary}}"
rules:
  - id: estop
    name: Emergency stops
    enabled: true
    event_types: [emergency_stop]
    severities: [critical]
    template_id: short
    max_per_hour: 10
    cooldown: 30s
    escalation_delay: 5m
    escalation_channels: [sms]
    channels:
      email: [safety@example.com]
      sms: ["+15550100"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m := NewManager(Settings{}, logging.Discard())
	m.RegisterChannel(&fakeChannel{kind: ChannelEmail})
	m.RegisterChannel(&fakeChannel{kind: ChannelSMS})
	require.NoError(t, m.LoadRulesFile(path))

	rules := m.Rules()
	require.Len(t, rules, 1)
	r := rules[0]
	assert.Equal(t, "estop", r.ID)
	assert.Equal(t, 30*time.Second, r.Cooldown)
	assert.Equal(t, 5*time.Minute, r.EscalationDelay)
	assert.Equal(t, []models.Severity{models.SeverityCritical}, r.Severities)
	assert.Equal(t, []string{"+15550100"}, r.Channels[ChannelSMS])

	require.NoError(t, os.WriteFile(path, []byte("rules: [{id: x, channels: {pager: [a]}}]"), 0o600))
	err := m.LoadRulesFile(path)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.Len(t, m.Rules(), 1, "invalid file must not replace the rule set")
}
