package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across components.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldEventID       = "event_id"
	FieldEventType     = "event_type"
	FieldSeverity      = "severity"
	FieldCorrelationID = "correlation_id"
	FieldActor         = "actor"
	FieldChainIndex    = "chain_index"
	FieldKeyVersion    = "key_version"
	FieldLocation      = "location"
	FieldPath          = "path"
	FieldConnector     = "connector"
	FieldRuleID        = "rule_id"
	FieldChannel       = "channel"
	FieldStage         = "stage"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming a pipeline component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Severity returns a slog attribute for an event severity.
func Severity(s string) slog.Attr {
	return slog.String(FieldSeverity, s)
}

// CorrelationID returns a slog attribute for a correlation ID.
func CorrelationID(id string) slog.Attr {
	return slog.String(FieldCorrelationID, id)
}

// Actor returns a slog attribute for the acting identity.
func Actor(actor string) slog.Attr {
	return slog.String(FieldActor, actor)
}

// ChainIndex returns a slog attribute for a hash chain index.
func ChainIndex(i uint64) slog.Attr {
	return slog.Uint64(FieldChainIndex, i)
}

// KeyVersion returns a slog attribute for an encryption key version.
func KeyVersion(v int) slog.Attr {
	return slog.Int(FieldKeyVersion, v)
}

// Location returns a slog attribute for a storage location ID.
func Location(id string) slog.Attr {
	return slog.String(FieldLocation, id)
}

// Path returns a slog attribute for an object path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Connector returns a slog attribute for a SIEM connector name.
func Connector(name string) slog.Attr {
	return slog.String(FieldConnector, name)
}

// RuleID returns a slog attribute for a notification rule ID.
func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

// Channel returns a slog attribute for a notification channel.
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

// Stage returns a slog attribute for a pipeline stage.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
