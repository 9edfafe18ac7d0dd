package models

// EventState tracks an event through the logging pipeline.
type EventState string

const (
	StateQueued          EventState = "QUEUED"
	StateChainAppended   EventState = "CHAIN_APPENDED"
	StateEncryptedStored EventState = "ENCRYPTED_STORED"
	StateReplicated      EventState = "REPLICATED"
	StateSIEMForwarded   EventState = "SIEM_FORWARDED"
	StateNotified        EventState = "NOTIFIED"
	StateDone            EventState = "DONE"
	StateFailed          EventState = "FAILED"
)

// Terminal reports whether no further transitions happen from s.
func (s EventState) Terminal() bool {
	return s == StateDone || s == StateFailed
}
