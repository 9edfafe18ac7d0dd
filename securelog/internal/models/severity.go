package models

import (
	"fmt"
	"strings"
)

// Severity is the pipeline-wide event severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every valid severity from lowest to highest.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity normalizes s into a Severity. "warning" and "error" are
// accepted as aliases for medium and high.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "informational":
		return SeverityInfo, nil
	case "low":
		return SeverityLow, nil
	case "medium", "warning", "warn":
		return SeverityMedium, nil
	case "high", "error":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("%w: unknown severity %q", ErrConfiguration, s)
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders severities: info=0 through critical=4. Unknown values are -1.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// SIEMLevel maps the severity onto the 0-10 scale used by SIEM formats.
func (s Severity) SIEMLevel() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 8
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// IsCritical reports whether events of this severity must be processed inline.
func (s Severity) IsCritical() bool {
	return s == SeverityCritical
}

func (s Severity) String() string {
	return string(s)
}
