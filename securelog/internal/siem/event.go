// Package siem normalizes logged events and forwards them in batches to
// external security monitoring systems over syslog, Splunk HEC,
// Elasticsearch bulk, CEF and NATS.
package siem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// AppName is the syslog APP-NAME of every forwarded record.
const AppName = "RoverMissionControl"

// Event is the connector-neutral form of a logged event. Severity is on a
// 0-10 scale.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	SourceHost string                 `json:"source_host"`
	SourceIP   string                 `json:"source_ip"`
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Severity   int                    `json:"severity"`
	Message    string                 `json:"message"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
}

// Normalize converts a pipeline event. Raw carries the payload plus actor
// and correlation id.
func Normalize(e models.Event, host, ip string) Event {
	raw := make(map[string]interface{}, len(e.Payload)+2)
	for k, v := range e.Payload {
		raw[k] = v
	}
	if e.Actor != "" {
		raw["user"] = e.Actor
	}
	if e.CorrelationID != "" {
		raw["correlation_id"] = e.CorrelationID
	}

	tags := []string{"securelog", string(e.Severity)}
	if e.CorrelationID != "" {
		tags = append(tags, "correlated")
	}

	return Event{
		Timestamp:  e.Timestamp.UTC(),
		SourceHost: host,
		SourceIP:   ip,
		ID:         e.ID,
		Type:       e.Type,
		Severity:   e.Severity.SIEMLevel(),
		Message:    fmt.Sprintf("%s: %s", e.Type, e.Summary()),
		Raw:        raw,
		Tags:       tags,
	}
}

// Connector is one SIEM destination.
type Connector interface {
	Name() string
	FormatEvent(e Event) ([]byte, error)
	SendEvent(ctx context.Context, e Event) error
}

// BatchSender is implemented by connectors with a native batch format.
type BatchSender interface {
	SendBatch(ctx context.Context, events []Event) error
}

// HealthChecker is implemented by connectors that can check their endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// severityName maps a 0-10 level back to a severity keyword.
func severityName(level int) string {
	switch {
	case level >= 9:
		return string(models.SeverityCritical)
	case level >= 7:
		return string(models.SeverityHigh)
	case level >= 5:
		return string(models.SeverityMedium)
	case level >= 3:
		return string(models.SeverityLow)
	default:
		return string(models.SeverityInfo)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
