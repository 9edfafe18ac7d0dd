package models

import "time"

// GenesisHash is the previous_hash of the entry at index 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LogEntry is one immutable record of the hash chain.
type LogEntry struct {
	Index         uint64                 `json:"index"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     string                 `json:"event_type"`
	Severity      Severity               `json:"severity"`
	Payload       map[string]interface{} `json:"payload"`
	Actor         string                 `json:"actor"`
	CorrelationID string                 `json:"correlation_id"`
	PreviousHash  string                 `json:"previous_hash"`
	Nonce         uint64                 `json:"nonce"`
	Hash          string                 `json:"hash"`
	Signature     string                 `json:"signature"`
}

// LogMetadata is the unencrypted, searchable part of an encrypted record.
// It is also bound to the ciphertext as associated data.
type LogMetadata struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	Severity      Severity  `json:"severity"`
	Actor         string    `json:"actor"`
	CorrelationID string    `json:"correlation_id"`
}

// EncryptedRecord is an AEAD-sealed event payload plus its metadata row.
type EncryptedRecord struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Ciphertext []byte      `json:"ciphertext"`
	Nonce      []byte      `json:"nonce"`
	Tag        []byte      `json:"tag"`
	KeyVersion int         `json:"key_version"`
	Metadata   LogMetadata `json:"metadata"`
}

// SearchFilter selects metadata rows. Zero-valued fields are ignored.
type SearchFilter struct {
	EventType     string    `json:"event_type,omitempty"`
	Severity      Severity  `json:"severity,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Start         time.Time `json:"start,omitempty"`
	End           time.Time `json:"end,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// Matches reports whether m satisfies the filter.
func (f SearchFilter) Matches(m LogMetadata) bool {
	if f.EventType != "" && m.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && m.Severity != f.Severity {
		return false
	}
	if f.Actor != "" && m.Actor != f.Actor {
		return false
	}
	if f.CorrelationID != "" && m.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Start.IsZero() && m.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && m.Timestamp.After(f.End) {
		return false
	}
	return true
}
