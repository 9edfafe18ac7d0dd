// Package notification evaluates alerting rules against logged events and
// delivers messages over email, SMS, webhooks and chat, with hourly caps,
// retries and one-shot escalation.
package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// ChannelType names a delivery channel.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelWebhook ChannelType = "webhook"
	ChannelChat    ChannelType = "chat"
)

// Rule selects events and says where to send them. Empty selectors match
// everything.
type Rule struct {
	ID         string                   `json:"id" yaml:"id"`
	Name       string                   `json:"name" yaml:"name"`
	Enabled    bool                     `json:"enabled" yaml:"enabled"`
	EventTypes []string                 `json:"event_types,omitempty" yaml:"event_types"`
	Severities []models.Severity        `json:"severities,omitempty" yaml:"severities"`
	Conditions map[string]string        `json:"conditions,omitempty" yaml:"conditions"`
	Channels   map[ChannelType][]string `json:"channels" yaml:"channels"`
	TemplateID string                   `json:"template_id,omitempty" yaml:"template_id"`

	// Cooldown is the minimum spacing between two dispatches of this rule.
	Cooldown time.Duration `json:"cooldown,omitempty" yaml:"cooldown"`
	// MaxPerHour caps dispatches per fixed hourly window. Zero means no cap.
	MaxPerHour int `json:"max_per_hour,omitempty" yaml:"max_per_hour"`

	EscalationDelay    time.Duration `json:"escalation_delay,omitempty" yaml:"escalation_delay"`
	EscalationChannels []ChannelType `json:"escalation_channels,omitempty" yaml:"escalation_channels"`
}

// Matches reports whether every configured selector accepts e. Condition
// keys are looked up in the payload, with "actor", "event_type" and
// "correlation_id" resolving to the event fields.
func (r *Rule) Matches(e models.Event) bool {
	if !r.Enabled {
		return false
	}
	if len(r.EventTypes) > 0 && !contains(r.EventTypes, e.Type) {
		return false
	}
	if len(r.Severities) > 0 {
		found := false
		for _, s := range r.Severities {
			if s == e.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range r.Conditions {
		got, ok := e.Field(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type target struct {
	channel   ChannelType
	recipient string
}

// targets flattens the channel map in a stable order.
func (r *Rule) targets() []target {
	types := make([]string, 0, len(r.Channels))
	for ch := range r.Channels {
		types = append(types, string(ch))
	}
	sort.Strings(types)

	var out []target
	for _, ch := range types {
		for _, recipient := range r.Channels[ChannelType(ch)] {
			out = append(out, target{channel: ChannelType(ch), recipient: recipient})
		}
	}
	return out
}

// escalationRule derives the synthetic rule used for the one-shot
// escalation: critical template, escalation channels only, no caps.
func (r *Rule) escalationRule() *Rule {
	esc := &Rule{
		ID:         r.ID + "-escalation",
		Name:       r.Name + " (escalation)",
		Enabled:    true,
		Channels:   make(map[ChannelType][]string),
		TemplateID: TemplateEscalation,
	}
	for _, ch := range r.EscalationChannels {
		if recipients := r.Channels[ch]; len(recipients) > 0 {
			esc.Channels[ch] = append([]string(nil), recipients...)
		}
	}
	return esc
}

// RecordStatus is the outcome of one delivery attempt.
type RecordStatus string

const (
	StatusPending     RecordStatus = "pending"
	StatusSent        RecordStatus = "sent"
	StatusFailed      RecordStatus = "failed"
	StatusRateLimited RecordStatus = "rate_limited"
)

// Record is one (channel, recipient) delivery for one event and rule.
type Record struct {
	ID         string       `json:"id"`
	EventID    string       `json:"event_id"`
	RuleID     string       `json:"rule_id"`
	Channel    ChannelType  `json:"channel"`
	Recipient  string       `json:"recipient"`
	Status     RecordStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	RetryCount int          `json:"retry_count"`
	CreatedAt  time.Time    `json:"created_at"`
	SentAt     *time.Time   `json:"sent_at,omitempty"`
	Escalation bool         `json:"escalation,omitempty"`
}

// HistoryFilter narrows History. Zero fields match all.
type HistoryFilter struct {
	EventID string
	RuleID  string
	Status  RecordStatus
	Limit   int
}

func (f HistoryFilter) matches(r Record) bool {
	if f.EventID != "" && r.EventID != f.EventID {
		return false
	}
	if f.RuleID != "" && r.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// validateRule checks structure that does not depend on channel
// registrations.
func validateRule(r *Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: rule id is required", models.ErrConfiguration)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: rule %s has no channels", models.ErrConfiguration, r.ID)
	}
	for _, s := range r.Severities {
		if !s.Valid() {
			return fmt.Errorf("%w: rule %s has unknown severity %q", models.ErrConfiguration, r.ID, s)
		}
	}
	if r.MaxPerHour < 0 || r.Cooldown < 0 || r.EscalationDelay < 0 {
		return fmt.Errorf("%w: rule %s has a negative limit", models.ErrConfiguration, r.ID)
	}
	for _, ch := range r.EscalationChannels {
		if len(r.Channels[ch]) == 0 {
			return fmt.Errorf("%w: rule %s escalates to %s without recipients", models.ErrConfiguration, r.ID, ch)
		}
	}
	return nil
}
