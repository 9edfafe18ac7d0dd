package models

import (
	"fmt"
	"time"
)

// Event is a security or safety relevant occurrence flowing through the
// pipeline. It is the unit handed to notification and SIEM forwarding.
type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"event_type"`
	Severity      Severity               `json:"severity"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload"`
	Actor         string                 `json:"actor,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`

	// Set once the event has been appended to the hash chain.
	ChainIndex uint64 `json:"chain_index"`
	ChainHash  string `json:"chain_hash,omitempty"`
}

// Field resolves a named attribute for rule matching: top-level event
// attributes first, then payload keys.
func (e *Event) Field(name string) (string, bool) {
	switch name {
	case "event_type":
		return e.Type, true
	case "severity":
		return string(e.Severity), true
	case "actor":
		return e.Actor, e.Actor != ""
	case "correlation_id":
		return e.CorrelationID, e.CorrelationID != ""
	}
	v, ok := e.Payload[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// Summary returns a short human readable description of the event.
func (e *Event) Summary() string {
	for _, key := range []string{"message", "reason", "description", "action"} {
		if v, ok := e.Payload[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return e.Type
}
